package samplehub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/hubrpc/internal/common/clock"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/hub"
	hubhttp "github.com/AlibekovAA/hubrpc/internal/hub/http"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type peer struct {
	t  *testing.T
	ws *gorillaWS.Conn
	id string
}

func startServer(t *testing.T, clk clock.Clock) (*httptest.Server, *hub.ConnectionManager) {
	t.Helper()
	log := logger.NewWithWriter(io.Discard, "samplehub-test", "info")
	manager := hub.NewConnectionManager()

	opts := hub.DefaultOptions()
	opts.Manager = manager
	opts.PingPeriod = 0
	dispatcher := hub.NewDispatcher(
		hub.Factory(nil, func() (*Hub, error) { return New(log, clk, manager.Count), nil }),
		opts,
		log,
	)

	mux := http.NewServeMux()
	mux.Handle("/ws/", hubhttp.NewHandler(dispatcher, hubhttp.Config{}, log))
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
		server.Close()
	})
	return server, manager
}

func dial(t *testing.T, server *httptest.Server) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/"
	ws, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	p := &peer{t: t, ws: ws}
	event := p.read()
	if event.MessageType != hub.MessageTypeConnectionEvent {
		t.Fatalf("expected connection event, got %s", event.MessageType)
	}
	p.id = event.Data
	return p
}

func (p *peer) read() hub.Message {
	p.t.Helper()
	p.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg hub.Message
	if err := p.ws.ReadJSON(&msg); err != nil {
		p.t.Fatalf("read: %v", err)
	}
	return msg
}

func (p *peer) invoke(id, method string, args ...any) {
	p.t.Helper()
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw[i], _ = json.Marshal(a)
	}
	if err := p.ws.WriteJSON(hub.InvocationDescriptor{ID: id, MethodName: method, Arguments: raw}); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *peer) result() hub.InvocationResultDescriptor {
	p.t.Helper()
	msg := p.read()
	if msg.MessageType != hub.MessageTypeInvocationResult {
		p.t.Fatalf("expected result, got %s: %s", msg.MessageType, msg.Data)
	}
	var res hub.InvocationResultDescriptor
	if err := json.Unmarshal([]byte(msg.Data), &res); err != nil {
		p.t.Fatalf("decode result: %v", err)
	}
	return res
}

func (p *peer) call(id, method string, args ...any) hub.InvocationResultDescriptor {
	p.t.Helper()
	p.invoke(id, method, args...)
	return p.result()
}

func TestHub_Methods(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	server, _ := startServer(t, clk)
	p := dial(t, server)

	tests := []struct {
		name    string
		method  string
		args    []any
		want    string
		wantErr string
	}{
		{name: "echo", method: "Echo", args: []any{"hello"}, want: `"hello"`},
		{name: "add", method: "Add", args: []any{1.5, 2}, want: `3.5`},
		{name: "divide", method: "Divide", args: []any{9, 3}, want: `3`},
		{name: "divide by zero", method: "Divide", args: []any{1, 0}, wantErr: ErrDivisionByZero.Error()},
		{name: "time", method: "Time", want: `"2024-03-01T12:00:00Z"`},
		{name: "online", method: "Online", want: `1`},
		{name: "ticks out of range", method: "Ticks", args: []any{0, 10}, wantErr: ErrInvalidTicks.Error()},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.call(string(rune('a'+i)), tt.method, tt.args...)
			if tt.wantErr != "" {
				if res.Error == nil || *res.Error != tt.wantErr {
					t.Fatalf("expected error %q, got %+v", tt.wantErr, res)
				}
				return
			}
			if res.Error != nil {
				t.Fatalf("unexpected error %q", *res.Error)
			}
			if string(res.Result) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Result)
			}
		})
	}
}

func TestHub_UptimeFollowsClock(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	server, _ := startServer(t, clk)
	p := dial(t, server)

	clk.Advance(90 * time.Second)

	res := p.call("1", "Uptime")
	if string(res.Result) != "90" {
		t.Errorf("expected 90 seconds, got %s", res.Result)
	}
}

func TestHub_Whoami(t *testing.T) {
	server, _ := startServer(t, clock.NewMockClock(epoch))
	p := dial(t, server)

	res := p.call("1", "Whoami")
	var identity Identity
	if err := json.Unmarshal(res.Result, &identity); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	if identity.ConnectionID != p.id {
		t.Errorf("expected connection %s, got %s", p.id, identity.ConnectionID)
	}
}

func TestHub_AskRoundTripsThroughPeer(t *testing.T) {
	server, _ := startServer(t, clock.NewMockClock(epoch))
	p := dial(t, server)

	p.invoke("ask-1", "Ask", "meaning of life")

	msg := p.read()
	if msg.MessageType != hub.MessageTypeClientMethodInvocation {
		t.Fatalf("expected client invocation, got %s", msg.MessageType)
	}
	var inv hub.InvocationDescriptor
	if err := json.Unmarshal([]byte(msg.Data), &inv); err != nil {
		t.Fatalf("decode invocation: %v", err)
	}
	if inv.MethodName != "Answer" || len(inv.Arguments) != 1 || string(inv.Arguments[0]) != `"meaning of life"` {
		t.Fatalf("unexpected invocation %+v", inv)
	}

	if err := p.ws.WriteJSON(hub.InvocationResultDescriptor{ID: inv.ID, Result: json.RawMessage(`"42"`)}); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	res := p.result()
	if res.ID != "ask-1" || string(res.Result) != `"peer answered: 42"` {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHub_TicksArePushed(t *testing.T) {
	server, _ := startServer(t, clock.NewMockClock(epoch))
	p := dial(t, server)

	res := p.call("1", "Ticks", 3, 1)
	if res.Error != nil {
		t.Fatalf("unexpected error %q", *res.Error)
	}

	for i := 1; i <= 3; i++ {
		msg := p.read()
		if msg.MessageType != hub.MessageTypeText {
			t.Fatalf("expected text, got %s", msg.MessageType)
		}
		if want := "tick " + string(rune('0'+i)); msg.Data != want {
			t.Errorf("expected %q, got %q", want, msg.Data)
		}
	}
}

func TestHub_CloseStopsTicks(t *testing.T) {
	h := New(logger.NewWithWriter(io.Discard, "samplehub-test", "info"), clock.NewMockClock(epoch), nil)

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case <-h.done:
	default:
		t.Error("expected done to be closed")
	}
}

func TestHub_ReleasedOnDisconnect(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, "samplehub-test", "info")
	manager := hub.NewConnectionManager()
	released := make(chan *Hub, 1)

	opts := hub.DefaultOptions()
	opts.Manager = manager
	opts.PingPeriod = 0
	dispatcher := hub.NewDispatcher(func() hub.Activator {
		return &trackingActivator{
			inner:    hub.NewDefaultActivator(nil, func() (*Hub, error) { return New(log, clock.NewRealClock(), nil), nil }),
			released: released,
		}
	}, opts, log)

	mux := http.NewServeMux()
	mux.Handle("/ws/", hubhttp.NewHandler(dispatcher, hubhttp.Config{}, log))
	server := httptest.NewServer(mux)
	defer server.Close()

	p := dial(t, server)
	p.ws.WriteMessage(gorillaWS.CloseMessage, gorillaWS.FormatCloseMessage(gorillaWS.CloseNormalClosure, ""))

	select {
	case h := <-released:
		select {
		case <-h.done:
		default:
			t.Error("expected released hub to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub was not released")
	}
	if manager.Count() != 0 {
		t.Errorf("expected no tracked connections, got %d", manager.Count())
	}
}

type trackingActivator struct {
	inner    *hub.DefaultActivator[*Hub]
	released chan *Hub
}

func (a *trackingActivator) Create(ctx context.Context) (any, error) {
	return a.inner.Create(ctx)
}

func (a *trackingActivator) Release(h any) error {
	err := a.inner.Release(h)
	if sh, ok := h.(*Hub); ok {
		a.released <- sh
	}
	return err
}
