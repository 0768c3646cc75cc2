// Package sshtest provides an in-process shell backend for tests. It accepts
// the identity triple as the SSH user, grants a PTY and echoes stdin back.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/gluk-w/termgate/internal/sshterminal"
	"golang.org/x/crypto/ssh"
)

// EchoPrefix is written before every chunk of echoed input.
const EchoPrefix = "echo:"

// Banner is written once the shell starts.
const Banner = "PTY:true\n"

// PasswordCheck decides whether a login is accepted.
type PasswordCheck func(id sshterminal.Identity, password string) error

// SecretCheck accepts any well-formed identity that presents secret.
func SecretCheck(secret string) PasswordCheck {
	return func(_ sshterminal.Identity, password string) error {
		if password != secret {
			return fmt.Errorf("wrong password")
		}
		return nil
	}
}

// PTY is a recorded pty-req.
type PTY struct {
	Term string
	Rows uint32
	Cols uint32
}

// Server is a fake shell backend.
type Server struct {
	Addr               string
	HostKeyFingerprint string

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup

	mu      sync.Mutex
	logins  []sshterminal.Identity
	ptys    []PTY
	resizes []PTY
	conns   map[net.Conn]struct{}
}

// NewServer starts a backend on a loopback port and stops it when t ends.
func NewServer(t testing.TB, check PasswordCheck) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	s := &Server{
		HostKeyFingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
		conns:              make(map[net.Conn]struct{}),
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			id, err := sshterminal.ParseIdentity(meta.User())
			if err != nil {
				return nil, err
			}
			if err := check(id, string(password)); err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.logins = append(s.logins, id)
			s.mu.Unlock()
			return &ssh.Permissions{}, nil
		},
	}
	s.config.AddHostKey(signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.Addr = s.listener.Addr().String()

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[netConn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(netConn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, netConn)
		s.mu.Unlock()
		netConn.Close()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.ptys = append(s.ptys, PTY{Term: p.Term, Rows: p.Rows, Cols: p.Cols})
			s.mu.Unlock()
			req.Reply(true, nil)

		case "window-change":
			var w struct {
				Cols, Rows    uint32
				Width, Height uint32
			}
			if err := ssh.Unmarshal(req.Payload, &w); err == nil {
				s.mu.Lock()
				s.resizes = append(s.resizes, PTY{Rows: w.Rows, Cols: w.Cols})
				s.mu.Unlock()
				fmt.Fprintf(ch, "resize:%dx%d\n", w.Cols, w.Rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			req.Reply(true, nil)
			ch.Write([]byte(Banner))
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						ch.Write(append([]byte(EchoPrefix), buf[:n]...))
					}
					if err != nil {
						ch.CloseWrite()
						ch.Close()
						return
					}
				}
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// Logins returns the identities that authenticated so far.
func (s *Server) Logins() []sshterminal.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sshterminal.Identity(nil), s.logins...)
}

// PTYs returns the recorded pty-req payloads.
func (s *Server) PTYs() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTY(nil), s.ptys...)
}

// Resizes returns the recorded window-change payloads.
func (s *Server) Resizes() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTY(nil), s.resizes...)
}

// OpenConns reports the number of live TCP connections.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every live connection abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Close stops accepting and drops live connections.
func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}
