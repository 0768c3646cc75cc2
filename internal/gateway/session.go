package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/audit"
	"github.com/gluk-w/termgate/internal/logutil"
	"github.com/gluk-w/termgate/internal/sshterminal"
	"github.com/gluk-w/termgate/internal/termtoken"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is the negotiation state of a session.
type State int

const (
	AwaitingAuth State = iota
	Authenticating
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingAuth:
		return "awaiting_auth"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const outputChunkSize = 32 * 1024

var errWritesClosed = errors.New("session writes closed")

// Session is one relay between a client transport and a backend channel.
type Session struct {
	ID       string
	SourceIP string

	gw      *Gateway
	conn    Transport
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	rows      uint16
	cols      uint16
	backend   Backend
	vmID      uint
	username  string
	readyAt   time.Time
	cancel    context.CancelFunc
	authTimer *time.Timer
	hbStop    chan struct{}

	// writeMu serialises events to the client; once writesClosed is set no
	// further event is sent.
	writeMu      sync.Mutex
	writesClosed bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newSession(g *Gateway, conn Transport, sourceIP string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		SourceIP: sourceIP,
		gw:       g,
		conn:     conn,
		limiter:  g.opts.newLimiter(),
		state:    AwaitingAuth,
		rows:     sshterminal.DefaultRows,
		cols:     sshterminal.DefaultCols,
		hbStop:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the current terminal dimensions.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run drives the session until teardown. Transport reads use parent
// directly: cancelling a read context closes the connection, and teardown
// still needs it to deliver the final events.
func (s *Session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.authTimer = time.AfterFunc(s.gw.opts.AuthTimeout, func() {
		if s.State() == AwaitingAuth {
			s.close("authentication timeout", &SessionError{Kind: AuthTimeout, Err: ErrAuthTimeout})
		}
	})
	s.mu.Unlock()

	log.Printf("[gateway] session %s accepted from %s", s.ID, s.SourceIP)

	s.readLoop(parent, ctx)

	<-s.done
	s.wg.Wait()
}

// readLoop is the only reader of the transport.
func (s *Session) readLoop(readCtx, ctx context.Context) {
	for {
		typ, payload, err := s.conn.Read(readCtx)
		if err != nil {
			s.close(closeReason(err), &SessionError{Kind: TransportFailure, Err: err})
			return
		}

		msg := decodeClientFrame(typ, payload)

		switch s.State() {
		case AwaitingAuth:
			if msg.kind != msgAuth {
				continue
			}
			s.beginAuth(ctx, msg.auth)

		case Authenticating:
			// Nothing is honoured until the backend is ready.

		case Ready:
			if err := s.handleReady(ctx, msg); err != nil {
				if ctx.Err() != nil {
					s.close("session cancelled", nil)
				} else {
					s.close("backend write failed", &SessionError{Kind: BackendStreamFailure, Err: err})
				}
				return
			}

		case Closed:
			return
		}
	}
}

func (s *Session) beginAuth(ctx context.Context, req authRequest) {
	s.mu.Lock()
	if s.state != AwaitingAuth {
		s.mu.Unlock()
		return
	}
	if s.authTimer != nil && !s.authTimer.Stop() {
		// The timeout already fired and owns teardown.
		s.mu.Unlock()
		return
	}
	s.state = Authenticating
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.negotiate(ctx, req)
	}()
}

// negotiate redeems the token and opens the backend channel.
func (s *Session) negotiate(ctx context.Context, req authRequest) {
	username := logutil.SanitizeForLog(req.Username)

	tok, err := s.gw.tokens.ConsumeScoped(ctx, req.Token, req.VMID, req.Username)
	if err == nil {
		err = sshterminal.ValidateUsername(req.Username)
	}
	if err != nil {
		serr := tokenError(err)
		log.Printf("[gateway] session %s: auth rejected for user %s vm %d: %v", s.ID, username, req.VMID, err)
		audit.LogTokenRejected(req.VMID, req.Username, s.SourceIP, s.ID, err.Error())
		s.close("authentication failed", serr)
		return
	}

	s.mu.Lock()
	s.vmID = tok.VMID
	s.username = req.Username
	rows, cols := s.rows, s.cols
	s.mu.Unlock()

	id := sshterminal.Identity{Username: req.Username, VMID: tok.VMID, Token: req.Token}

	dialCtx, cancel := context.WithTimeout(ctx, s.gw.opts.ConnectTimeout)
	backend, err := s.gw.dialer.Open(dialCtx, id, rows, cols)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			s.close("session cancelled", nil)
			return
		}
		log.Printf("[gateway] session %s: backend connect failed for user %s vm %d: %v", s.ID, username, tok.VMID, err)
		audit.LogBackendConnectFailed(tok.VMID, req.Username, s.ID, err.Error())
		s.close("backend connect failed", &SessionError{Kind: BackendConnectFailure, Err: err})
		return
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		if err := backend.Close(); err != nil {
			log.Printf("[gateway] session %s: close orphaned backend: %v", s.ID, err)
		}
		return
	}
	s.backend = backend
	s.state = Ready
	s.readyAt = time.Now()
	s.mu.Unlock()

	log.Printf("[gateway] session %s ready: user %s vm %d", s.ID, username, tok.VMID)
	audit.LogSessionStart(tok.VMID, req.Username, s.SourceIP, s.ID, rows, cols)

	if err := s.send(ctx, serverEvent{Type: EventConnected}); err != nil {
		if !errors.Is(err, errWritesClosed) {
			s.close("client write failed", &SessionError{Kind: TransportFailure, Err: err})
		}
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pumpOutput(ctx, backend)
	}()
	go func() {
		defer s.wg.Done()
		s.heartbeat(ctx)
	}()
}

// handleReady applies one client message to the backend.
func (s *Session) handleReady(ctx context.Context, msg clientMessage) error {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()

	switch msg.kind {
	case msgResize:
		if err := backend.Resize(msg.rows, msg.cols); err != nil {
			log.Printf("[gateway] session %s: resize to %dx%d failed: %v", s.ID, msg.cols, msg.rows, err)
			return nil
		}
		s.mu.Lock()
		s.rows, s.cols = msg.rows, msg.cols
		s.mu.Unlock()
		return nil

	case msgRaw, msgInput:
		if len(msg.data) == 0 {
			return nil
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := backend.Write(msg.data)
		return err
	}
	// Repeated auth and unusable resize envelopes.
	return nil
}

// pumpOutput forwards backend output to the client as "output" events,
// never splitting a UTF-8 sequence across events.
func (s *Session) pumpOutput(ctx context.Context, backend Backend) {
	buf := make([]byte, outputChunkSize)
	carry := 0
	for {
		n, err := backend.Read(buf[carry:])
		if n > 0 {
			complete, tail := splitIncompleteRune(buf[:carry+n])
			if len(complete) > 0 {
				if werr := s.send(ctx, serverEvent{Type: EventOutput, Data: string(complete)}); werr != nil {
					if !errors.Is(werr, errWritesClosed) {
						s.close("client write failed", &SessionError{Kind: TransportFailure, Err: werr})
					}
					return
				}
			}
			carry = copy(buf, tail)
		}
		if err == nil {
			continue
		}

		if carry > 0 {
			s.send(ctx, serverEvent{Type: EventOutput, Data: string(buf[:carry])})
		}
		if errors.Is(err, io.EOF) {
			s.close("backend closed", nil)
		} else {
			s.close("backend stream error", &SessionError{Kind: BackendStreamFailure, Err: err})
		}
		return
	}
}

// heartbeat pings the client while the session is Ready. A failed ping is
// treated as the transport going away.
func (s *Session) heartbeat(ctx context.Context) {
	interval := s.gw.opts.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hbStop:
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := s.conn.Ping(pingCtx)
		cancel()
		if err != nil {
			if s.State() != Closed {
				s.close("heartbeat failed", &SessionError{Kind: TransportFailure, Err: err})
			}
			return
		}
	}
}

func (s *Session) send(ctx context.Context, ev serverEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writesClosed {
		return errWritesClosed
	}
	return s.write(ctx, ev)
}

func (s *Session) write(ctx context.Context, ev serverEvent) error {
	wctx, cancel := context.WithTimeout(ctx, s.gw.opts.WriteTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, encodeEvent(ev))
}

// close tears the session down exactly once. cause is nil for an orderly
// end; a TransportFailure cause means the client is gone and is sent
// nothing.
func (s *Session) close(reason string, cause *SessionError) {
	s.closeOnce.Do(func() {
		defer close(s.done)

		s.mu.Lock()
		prev := s.state
		s.state = Closed
		backend := s.backend
		cancel := s.cancel
		timer := s.authTimer
		vmID, username, readyAt := s.vmID, s.username, s.readyAt
		s.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		close(s.hbStop)

		if backend != nil {
			if err := backend.Close(); err != nil {
				log.Printf("[gateway] session %s: close backend: %v", s.ID, err)
			}
		}

		transportGone := cause != nil && cause.Kind == TransportFailure

		// Events go out on a fresh context: the session context may be the
		// very thing that was cancelled.
		s.writeMu.Lock()
		if !transportGone {
			if cause != nil {
				if msg := cause.ClientMessage(); msg != "" {
					s.write(context.Background(), serverEvent{Type: EventError, Message: msg})
				}
			}
			s.write(context.Background(), serverEvent{Type: EventDisconnected})
		}
		s.writesClosed = true
		s.writeMu.Unlock()

		if cancel != nil {
			cancel()
		}

		if transportGone {
			s.conn.CloseNow()
		} else {
			s.conn.Close(websocket.StatusNormalClosure, "")
		}

		if cause != nil {
			log.Printf("[gateway] session %s closed in state %s: %s: %v", s.ID, prev, reason, cause)
		} else {
			log.Printf("[gateway] session %s closed in state %s: %s", s.ID, prev, reason)
		}

		if !readyAt.IsZero() {
			audit.LogSessionEnd(vmID, username, s.ID, reason, time.Since(readyAt).Milliseconds())
		}
	})
}

func closeReason(err error) string {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return "client closed"
	case -1:
		return "client connection lost"
	default:
		return "client closed: " + logutil.SanitizeForLog(err.Error())
	}
}

var _ TokenRedeemer = (*termtoken.Manager)(nil)
