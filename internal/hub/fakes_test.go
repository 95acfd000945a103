package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

const testTimeout = 2 * time.Second

var errSocketClosed = errors.New("socket closed")

// fakeSocket is an in-memory Socket. Each incoming message is delivered in
// frames of at most frameSize bytes.
type fakeSocket struct {
	frameSize int
	// messageType is reported for every incoming message.
	messageType int
	incoming  chan string
	outgoing  chan string
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	peerGone  sync.Once
}

func newFakeSocket(frameSize int) *fakeSocket {
	return &fakeSocket{
		frameSize:   frameSize,
		messageType: gorillaWS.TextMessage,
		incoming:    make(chan string, 64),
		outgoing:    make(chan string, 64),
		closed:      make(chan struct{}),
	}
}

func (s *fakeSocket) NextReader() (int, io.Reader, error) {
	select {
	case msg, ok := <-s.incoming:
		if !ok {
			return 0, nil, io.EOF
		}
		return s.messageType, &frameReader{data: []byte(msg), frameSize: s.frameSize}, nil
	case <-s.closed:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) NextWriter(int) (io.WriteCloser, error) {
	select {
	case <-s.closed:
		return nil, errSocketClosed
	default:
	}
	return &fakeWriter{socket: s}, nil
}

func (s *fakeSocket) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// peerSend delivers text as one message from the peer.
func (s *fakeSocket) peerSend(text string) {
	s.incoming <- text
}

// peerClose simulates the peer hanging up cleanly.
func (s *fakeSocket) peerClose() {
	s.peerGone.Do(func() { close(s.incoming) })
}

func (s *fakeSocket) next(t *testing.T) Message {
	t.Helper()
	select {
	case raw := <-s.outgoing:
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			t.Fatalf("outgoing message %q is not an envelope: %v", raw, err)
		}
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for outgoing message")
		return Message{}
	}
}

func (s *fakeSocket) nextResult(t *testing.T) InvocationResultDescriptor {
	t.Helper()
	msg := s.next(t)
	if msg.MessageType != MessageTypeInvocationResult {
		t.Fatalf("expected invocation result, got %s: %s", msg.MessageType, msg.Data)
	}
	var desc InvocationResultDescriptor
	if err := json.Unmarshal([]byte(msg.Data), &desc); err != nil {
		t.Fatalf("decode result %q: %v", msg.Data, err)
	}
	return desc
}

func (s *fakeSocket) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case raw := <-s.outgoing:
		t.Fatalf("unexpected outgoing message %q", raw)
	case <-time.After(wait):
	}
}

type frameReader struct {
	data      []byte
	frameSize int
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := len(r.data)
	if r.frameSize > 0 && n > r.frameSize {
		n = r.frameSize
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// stallSocket blocks every write until release is called, so queued
// messages back up behind the writer.
type stallSocket struct {
	*fakeSocket
	gate     chan struct{}
	gateOnce sync.Once
}

func newStallSocket() *stallSocket {
	return &stallSocket{fakeSocket: newFakeSocket(0), gate: make(chan struct{})}
}

func (s *stallSocket) NextWriter(messageType int) (io.WriteCloser, error) {
	<-s.gate
	return s.fakeSocket.NextWriter(messageType)
}

func (s *stallSocket) release() {
	s.gateOnce.Do(func() { close(s.gate) })
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitForLog polls out until it contains want.
func waitForLog(t *testing.T, out *syncBuffer, want string) string {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if s := out.String(); strings.Contains(s, want) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("log never contained %q:\n%s", want, out.String())
	return ""
}

type fakeWriter struct {
	socket *fakeSocket
	buf    []byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *fakeWriter) Close() error {
	w.socket.outgoing <- string(w.buf)
	return nil
}

// countingActivator records every Create and Release.
type countingActivator struct {
	hub       any
	createErr error

	created  atomic.Int32
	released atomic.Int32
	lastHub  atomic.Value
}

func (a *countingActivator) Create(context.Context) (any, error) {
	a.created.Add(1)
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.hub, nil
}

func (a *countingActivator) Release(hub any) error {
	a.released.Add(1)
	if hub != nil {
		a.lastHub.Store(hub)
	}
	return nil
}

func (a *countingActivator) factory() ActivatorFactory {
	return func() Activator { return a }
}

const (
	intResult    = 42
	stringResult = "42"
	floatResult  = float32(42.42)
)

type testHub struct {
	later        *Promise
	connectErr   error
	connected    atomic.Int32
	disconnected atomic.Int32
	lastReason   atomic.Value
	voidCalls    atomic.Int32
}

func (h *testHub) OnConnected(ctx context.Context, conn *Connection) error {
	h.connected.Add(1)
	return h.connectErr
}

func (h *testHub) OnDisconnected(ctx context.Context, conn *Connection, reason error) error {
	h.disconnected.Add(1)
	if reason != nil {
		h.lastReason.Store(reason)
	}
	return nil
}

func (h *testHub) VoidMethod() { h.voidCalls.Add(1) }

func (h *testHub) VoidMethodAsync() *Promise {
	return Async(func() (any, error) {
		h.voidCalls.Add(1)
		return nil, nil
	})
}

func (h *testHub) IntMethod() int { return intResult }

func (h *testHub) IntMethodAsync() *Promise {
	return Async(func() (any, error) { return intResult, nil })
}

func (h *testHub) StringMethod() string { return stringResult }

func (h *testHub) StringMethodAsync() Deferred {
	return Async(func() (any, error) { return stringResult, nil })
}

func (h *testHub) FloatMethod() float32 { return floatResult }

func (h *testHub) FloatMethodAsync() *Promise {
	return Async(func() (any, error) { return floatResult, nil })
}

func (h *testHub) Add(a, b int) int { return a + b }

func (h *testHub) Concat(prefix string, count int, upper bool) (string, error) {
	if count < 0 {
		return "", errors.New("count must not be negative")
	}
	out := ""
	for i := 0; i < count; i++ {
		out += prefix
	}
	if upper {
		out = "[" + out + "]"
	}
	return out, nil
}

func (h *testHub) Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func (h *testHub) Fail() error { return errors.New("boom") }

func (h *testHub) Explode() int { panic("kaboom") }

func (h *testHub) FailAsync() *Promise {
	return Async(func() (any, error) { return nil, errors.New("async boom") })
}

func (h *testHub) Whoami(ctx context.Context) string {
	conn, ok := ConnectionFromContext(ctx)
	if !ok {
		return ""
	}
	return conn.ID()
}

// AskPeer calls back into the peer while the inbound call is outstanding.
func (h *testHub) AskPeer(ctx context.Context, n int) *Promise {
	conn, _ := ConnectionFromContext(ctx)
	return Async(func() (any, error) {
		v, err := Invoke[int](conn.Context(), conn, "Double", n)
		if err != nil {
			return nil, err
		}
		return v + 1, nil
	})
}

// Later completes whenever the test settles h.later.
func (h *testHub) Later() *Promise { return h.later }

func (h *testHub) Close() error { return nil }

// farewellHub calls the peer from its disconnect hook.
type farewellHub struct {
	farewellErr chan error
}

func (h *farewellHub) OnDisconnected(ctx context.Context, conn *Connection, reason error) error {
	_, err := Invoke[int](ctx, conn, "Goodbye")
	h.farewellErr <- err
	return err
}

func (h *farewellHub) Ping() string { return "pong" }

func newTestLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, "hub-test", "debug")
}

func newTestDispatcher(act *countingActivator, mutate func(*Options)) *Dispatcher {
	opts := DefaultOptions()
	opts.PingPeriod = 0
	if mutate != nil {
		mutate(&opts)
	}
	return NewDispatcher(act.factory(), opts, newTestLogger())
}

// connectAndServe connects a fake peer and runs its receive loop. The
// returned channel yields Serve's result.
func connectAndServe(t *testing.T, d *Dispatcher, socket *fakeSocket) (*Connection, <-chan error) {
	t.Helper()
	conn, err := d.Connect(context.Background(), socket)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	event := socket.next(t)
	if event.MessageType != MessageTypeConnectionEvent || event.Data != conn.ID() {
		t.Fatalf("expected connection event with id %s, got %+v", conn.ID(), event)
	}

	served := make(chan error, 1)
	go func() { served <- d.Serve(context.Background(), conn) }()
	t.Cleanup(func() {
		conn.Close(nil)
		conn.Wait()
	})
	return conn, served
}

func waitServed(t *testing.T, served <-chan error) error {
	t.Helper()
	select {
	case err := <-served:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for Serve to return")
		return nil
	}
}

func invocation(id, method string, args ...any) string {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		raw[i] = b
	}
	data, _ := json.Marshal(InvocationDescriptor{ID: id, MethodName: method, Arguments: raw})
	return string(data)
}
