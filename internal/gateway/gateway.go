package gateway

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/sshterminal"
	"github.com/gluk-w/termgate/internal/termtoken"
	"golang.org/x/time/rate"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultAuthTimeout       = 15 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
)

// Transport is the client side of a session. *websocket.Conn satisfies it.
// Read is only ever called from one goroutine.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// Backend is an open shell channel.
type Backend interface {
	io.Reader
	io.Writer
	Resize(rows, cols uint16) error
	Close() error
}

// Dialer opens backend channels.
type Dialer interface {
	Open(ctx context.Context, id sshterminal.Identity, rows, cols uint16) (Backend, error)
}

// TokenRedeemer redeems terminal tokens. *termtoken.Manager satisfies it.
type TokenRedeemer interface {
	ConsumeScoped(ctx context.Context, value string, vmID uint, username string) (termtoken.Token, error)
}

type sshDialer struct {
	d *sshterminal.Dialer
}

// NewSSHDialer adapts an sshterminal.Dialer to Dialer.
func NewSSHDialer(d *sshterminal.Dialer) Dialer {
	return sshDialer{d: d}
}

func (s sshDialer) Open(ctx context.Context, id sshterminal.Identity, rows, cols uint16) (Backend, error) {
	ts, err := s.d.Open(ctx, id, rows, cols)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// Options tunes session behaviour.
type Options struct {
	// AuthTimeout bounds how long a connection may stay unauthenticated.
	AuthTimeout time.Duration
	// HeartbeatInterval is the spacing of transport pings while Ready.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds each event write to the client.
	WriteTimeout time.Duration
	// ConnectTimeout bounds opening the backend channel.
	ConnectTimeout time.Duration
	// InputRate and InputBurst throttle client-to-backend writes. Input over
	// the rate is delayed, never dropped. A non-positive rate disables it.
	InputRate  float64
	InputBurst int
}

func (o *Options) setDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.InputBurst <= 0 {
		o.InputBurst = 1
	}
}

func (o Options) newLimiter() *rate.Limiter {
	if o.InputRate <= 0 {
		return rate.NewLimiter(rate.Inf, o.InputBurst)
	}
	return rate.NewLimiter(rate.Limit(o.InputRate), o.InputBurst)
}

// Gateway runs sessions and keeps a registry of the live ones.
type Gateway struct {
	tokens TokenRedeemer
	dialer Dialer
	opts   Options

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

// New returns a Gateway that redeems tokens with tokens and opens backend
// channels with dialer.
func New(tokens TokenRedeemer, dialer Dialer, opts Options) *Gateway {
	opts.setDefaults()
	return &Gateway{
		tokens:   tokens,
		dialer:   dialer,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Serve runs one session over conn and returns once it has been torn down.
// sourceIP is recorded in the audit trail.
func (g *Gateway) Serve(ctx context.Context, conn Transport, sourceIP string) {
	s := newSession(g, conn, sourceIP)
	if !g.register(s) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.unregister(s)

	s.run(ctx)
}

// Count returns the number of live sessions.
func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Shutdown stops accepting sessions, tears down every live one and waits for
// them to finish or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	live := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		live = append(live, s)
	}
	g.mu.Unlock()

	if len(live) > 0 {
		log.Printf("[gateway] shutting down %d live sessions", len(live))
	}
	for _, s := range live {
		go s.close("server shutting down", nil)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) register(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s.ID] = s
	g.wg.Add(1)
	return true
}

func (g *Gateway) unregister(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.ID)
	g.mu.Unlock()
	g.wg.Done()
}
