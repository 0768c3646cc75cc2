package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gluk-w/termgate/internal/sshterminal"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeTransport stands in for a client WebSocket. The test plays the client:
// it pushes frames with send and reads gateway events with next.
type fakeTransport struct {
	in     chan frame
	events chan serverEvent
	gone   chan struct{}
	closed chan struct{}

	goneOnce  sync.Once
	closeOnce sync.Once

	mu         sync.Mutex
	written    []serverEvent
	closeCode  websocket.StatusCode
	closeCalls int
	closeNows  int
	pings      int
	pingErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan frame, 64),
		events: make(chan serverEvent, 256),
		gone:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.typ, fr.data, nil
	case <-f.gone:
		return 0, nil, websocket.CloseError{Code: websocket.StatusGoingAway}
	case <-f.closed:
		return 0, nil, net.ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case <-f.gone:
		return net.ErrClosed
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	var ev serverEvent
	if err := json.Unmarshal(p, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.written = append(f.written, ev)
	f.mu.Unlock()
	f.events <- ev
	return nil
}

func (f *fakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Close(code websocket.StatusCode, _ string) error {
	f.mu.Lock()
	f.closeCalls++
	f.closeCode = code
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) CloseNow() error {
	f.mu.Lock()
	f.closeNows++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) send(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.in <- frame{typ: websocket.MessageText, data: b}
}

func (f *fakeTransport) sendText(s string) {
	f.in <- frame{typ: websocket.MessageText, data: []byte(s)}
}

func (f *fakeTransport) sendBinary(b []byte) {
	f.in <- frame{typ: websocket.MessageBinary, data: b}
}

// disconnect simulates the client going away.
func (f *fakeTransport) disconnect() {
	f.goneOnce.Do(func() { close(f.gone) })
}

func (f *fakeTransport) next(t *testing.T) serverEvent {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gateway event")
		return serverEvent{}
	}
}

func (f *fakeTransport) expect(t *testing.T, want serverEvent) {
	t.Helper()
	if got := f.next(t); got != want {
		t.Fatalf("event = %+v, want %+v", got, want)
	}
}

func (f *fakeTransport) writtenEvents() []serverEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serverEvent(nil), f.written...)
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// fakeBackend is a backend shell whose output the test writes through out.
type fakeBackend struct {
	outR *io.PipeReader
	out  *io.PipeWriter

	inputCh chan []byte

	mu       sync.Mutex
	input    bytes.Buffer
	resizes  [][2]uint16
	closes   int
	writeErr error
}

func newFakeBackend() *fakeBackend {
	r, w := io.Pipe()
	return &fakeBackend{outR: r, out: w, inputCh: make(chan []byte, 256)}
}

func (b *fakeBackend) Read(p []byte) (int, error) {
	return b.outR.Read(p)
}

func (b *fakeBackend) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.writeErr != nil {
		err := b.writeErr
		b.mu.Unlock()
		return 0, err
	}
	b.input.Write(p)
	b.mu.Unlock()
	b.inputCh <- append([]byte(nil), p...)
	return len(p), nil
}

func (b *fakeBackend) Resize(rows, cols uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resizes = append(b.resizes, [2]uint16{rows, cols})
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closes++
	b.mu.Unlock()
	b.outR.CloseWithError(io.EOF)
	return nil
}

func (b *fakeBackend) nextInput(t *testing.T) string {
	t.Helper()
	select {
	case p := <-b.inputCh:
		return string(p)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for backend input")
		return ""
	}
}

func (b *fakeBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

func (b *fakeBackend) resizeLog() [][2]uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]uint16(nil), b.resizes...)
}

func (b *fakeBackend) inputString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.input.String()
}

type openCall struct {
	id   sshterminal.Identity
	rows uint16
	cols uint16
}

// fakeDialer hands out one fakeBackend per Open.
type fakeDialer struct {
	err   error
	block chan struct{}

	mu       sync.Mutex
	calls    []openCall
	backends []*fakeBackend
	opened   chan *fakeBackend
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(chan *fakeBackend, 16)}
}

func (d *fakeDialer) Open(ctx context.Context, id sshterminal.Identity, rows, cols uint16) (Backend, error) {
	d.mu.Lock()
	d.calls = append(d.calls, openCall{id: id, rows: rows, cols: cols})
	d.mu.Unlock()

	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	b := newFakeBackend()
	d.mu.Lock()
	d.backends = append(d.backends, b)
	d.mu.Unlock()
	d.opened <- b
	return b, nil
}

func (d *fakeDialer) openCalls() []openCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]openCall(nil), d.calls...)
}

func (d *fakeDialer) backend(t *testing.T) *fakeBackend {
	t.Helper()
	select {
	case b := <-d.opened:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for backend open")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
