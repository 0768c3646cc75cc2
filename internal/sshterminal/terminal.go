package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gluk-w/termgate/internal/logutil"
	"golang.org/x/crypto/ssh"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultKeepaliveInterval = 30 * time.Second
	defaultKeepaliveMax      = 3
	defaultTerm              = "xterm-color"
)

// DialerConfig describes how to reach the shell backend.
type DialerConfig struct {
	// Addr is the backend host:port.
	Addr string
	// Credential supplies the SSH password for each identity.
	Credential Credential
	// HostKeyFingerprint pins the backend host key (SHA256:...). Empty
	// accepts any host key.
	HostKeyFingerprint string
	// ConnectTimeout bounds the TCP dial and SSH handshake when the context
	// carries no earlier deadline.
	ConnectTimeout time.Duration
	// KeepaliveInterval is the spacing of keepalive@openssh.com requests.
	KeepaliveInterval time.Duration
	// KeepaliveMax is how many consecutive misses close the connection.
	KeepaliveMax int
	// Term is the TERM value requested for the PTY.
	Term string
}

// Dialer opens terminal sessions against the shell backend.
type Dialer struct {
	cfg DialerConfig
}

// NewDialer fills unset fields of cfg with defaults.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.Credential == nil {
		cfg.Credential = SharedSecret("")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.KeepaliveMax <= 0 {
		cfg.KeepaliveMax = defaultKeepaliveMax
	}
	if cfg.Term == "" {
		cfg.Term = defaultTerm
	}
	if cfg.HostKeyFingerprint == "" {
		log.Printf("[sshterminal] WARNING: backend host key is not pinned (%s)", cfg.Addr)
	}
	return &Dialer{cfg: cfg}
}

// HostKeyMismatchError is returned when the backend presents a host key
// whose fingerprint differs from the pinned one.
type HostKeyMismatchError struct {
	Expected string
	Actual   string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("backend host key mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (d *Dialer) hostKeyCallback() ssh.HostKeyCallback {
	expected := d.cfg.HostKeyFingerprint
	if expected == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if actual := ssh.FingerprintSHA256(key); actual != expected {
			return &HostKeyMismatchError{Expected: expected, Actual: actual}
		}
		return nil
	}
}

// Open connects to the backend as id, requests a PTY of rows x cols and
// starts the login shell. The returned session owns the SSH connection.
func (d *Dialer) Open(ctx context.Context, id Identity, rows, cols uint16) (*TerminalSession, error) {
	password, err := d.cfg.Credential.Password(id)
	if err != nil {
		return nil, fmt.Errorf("backend credential: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User: id.String(),
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: d.hostKeyCallback(),
		Timeout:         d.cfg.ConnectTimeout,
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(d.cfg.ConnectTimeout)
	}

	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.Addr, err)
	}

	// Bound the handshake by the deadline and abort it if ctx is cancelled.
	netConn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, d.cfg.Addr, cfg)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.cfg.Addr, ctx.Err())
	}
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", d.cfg.Addr, err)
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	ts, err := startShell(client, d.cfg.Term, rows, cols)
	if err != nil {
		client.Close()
		return nil, err
	}

	keepCtx, keepCancel := context.WithCancel(context.Background())
	ts.cancel = keepCancel
	go ts.keepalive(keepCtx, d.cfg.KeepaliveInterval, d.cfg.KeepaliveMax)

	log.Printf("[sshterminal] shell opened on %s for user %s vm %d (%dx%d)",
		d.cfg.Addr, logutil.SanitizeForLog(id.Username), id.VMID, cols, rows)
	return ts, nil
}

// TerminalSession is an interactive PTY shell on the backend. Read returns
// shell output; Write sends keystrokes.
type TerminalSession struct {
	Stdin   io.WriteCloser
	Stdout  io.Reader
	Session *ssh.Session

	client    *ssh.Client
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func startShell(client *ssh.Client, term string, rows, cols uint16) (*TerminalSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(term, int(rows), int(cols), modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &TerminalSession{
		Stdin:   stdin,
		Stdout:  stdout,
		Session: session,
		client:  client,
	}, nil
}

func (ts *TerminalSession) Read(p []byte) (int, error) {
	return ts.Stdout.Read(p)
}

func (ts *TerminalSession) Write(p []byte) (int, error) {
	return ts.Stdin.Write(p)
}

// Resize changes the terminal dimensions of the PTY.
func (ts *TerminalSession) Resize(rows, cols uint16) error {
	return ts.Session.WindowChange(int(rows), int(cols))
}

// Close terminates the shell and the SSH connection. It is safe to call more
// than once; an already-ended session is not an error.
func (ts *TerminalSession) Close() error {
	ts.closeOnce.Do(func() {
		if ts.cancel != nil {
			ts.cancel()
		}
		if err := ts.Session.Close(); err != nil && !errors.Is(err, io.EOF) {
			ts.closeErr = fmt.Errorf("close ssh session: %w", err)
		}
		if ts.client != nil {
			if err := ts.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) && ts.closeErr == nil {
				ts.closeErr = fmt.Errorf("close ssh connection: %w", err)
			}
		}
	})
	return ts.closeErr
}

// keepalive probes the backend until ctx is cancelled. A probe that gets no
// reply within interval counts as a miss; max consecutive misses close the
// connection.
func (ts *TerminalSession) keepalive(ctx context.Context, interval time.Duration, max int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		replied := make(chan error, 1)
		go func() {
			_, _, err := ts.client.SendRequest("keepalive@openssh.com", true, nil)
			replied <- err
		}()

		var err error
		select {
		case <-ctx.Done():
			return
		case err = <-replied:
		case <-time.After(interval):
			err = errors.New("no reply")
		}

		if err == nil {
			misses = 0
			continue
		}
		misses++
		if misses >= max {
			log.Printf("[sshterminal] keepalive failed %d times (%v), closing backend connection", misses, err)
			ts.client.Close()
			return
		}
	}
}
