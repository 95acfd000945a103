package samplehub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AlibekovAA/hubrpc/internal/common/clock"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/hub"
)

const maxTicks = 100

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrInvalidTicks   = fmt.Errorf("ticks must be between 1 and %d", maxTicks)
)

type Identity struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
}

// Hub is a demonstration hub; one instance serves one connection.
type Hub struct {
	log    *logger.Logger
	clock  clock.Clock
	online func() int

	connectedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
}

func New(log *logger.Logger, clk clock.Clock, online func() int) *Hub {
	return &Hub{
		log:    log,
		clock:  clk,
		online: online,
		done:   make(chan struct{}),
	}
}

func (h *Hub) OnConnected(ctx context.Context, conn *hub.Connection) error {
	h.connectedAt = h.clock.Now()
	h.log.WithFields(ctx, logger.Fields{
		"connection_id": conn.ID(),
		"action":        "samplehub_connected",
	}).Debug("sample hub attached")
	return nil
}

func (h *Hub) OnDisconnected(ctx context.Context, conn *hub.Connection, reason error) error {
	h.log.WithFields(ctx, logger.Fields{
		"connection_id": conn.ID(),
		"uptime":        h.clock.Since(h.connectedAt).String(),
		"action":        "samplehub_disconnected",
	}).Debug("sample hub detached")
	return nil
}

func (h *Hub) Echo(message string) string {
	return message
}

func (h *Hub) Add(a, b float64) float64 {
	return a + b
}

func (h *Hub) Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

func (h *Hub) Time() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

// Uptime reports how long this connection has been open, in seconds.
func (h *Hub) Uptime() float64 {
	return h.clock.Since(h.connectedAt).Seconds()
}

func (h *Hub) Whoami(ctx context.Context) Identity {
	conn, ok := hub.ConnectionFromContext(ctx)
	if !ok {
		return Identity{}
	}
	return Identity{
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		Username:     conn.Username(),
	}
}

func (h *Hub) Online() int {
	if h.online == nil {
		return 0
	}
	return h.online()
}

// Ask forwards question to the peer's Answer method and relays the reply.
func (h *Hub) Ask(ctx context.Context, question string) *hub.Promise {
	conn, _ := hub.ConnectionFromContext(ctx)
	return hub.Async(func() (any, error) {
		answer, err := hub.Invoke[string](conn.Context(), conn, "Answer", question)
		if err != nil {
			return nil, fmt.Errorf("peer did not answer: %w", err)
		}
		return fmt.Sprintf("peer answered: %s", answer), nil
	})
}

// Ticks pushes count text notifications to the peer, one per interval.
func (h *Hub) Ticks(ctx context.Context, count, intervalMs int) error {
	if count < 1 || count > maxTicks {
		return ErrInvalidTicks
	}
	if intervalMs < 1 {
		intervalMs = 1
	}
	conn, _ := hub.ConnectionFromContext(ctx)

	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
		defer ticker.Stop()

		for i := 1; i <= count; i++ {
			select {
			case <-ticker.C:
				if err := conn.SendText(conn.Context(), fmt.Sprintf("tick %d", i)); err != nil {
					return
				}
			case <-h.done:
				return
			case <-conn.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops background notifications. It is called when the hub is
// released.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	h.workers.Wait()
	return nil
}
