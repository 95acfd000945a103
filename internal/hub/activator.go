package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Activator creates and releases the hub instance of one connection.
// Release is called exactly once for every Create, with whatever Create
// returned, even when Create or the connect hook failed.
type Activator interface {
	Create(ctx context.Context) (any, error)
	Release(hub any) error
}

// ActivatorFactory yields a fresh Activator per connection.
type ActivatorFactory func() Activator

// ConnectHook is implemented by hubs that want to observe a new connection.
// A returned error aborts the connect.
type ConnectHook interface {
	OnConnected(ctx context.Context, conn *Connection) error
}

// DisconnectHook is implemented by hubs that want to observe teardown.
// reason is nil for a clean close.
type DisconnectHook interface {
	OnDisconnected(ctx context.Context, conn *Connection, reason error) error
}

var errActivatorReused = errors.New("activator already created a hub")

// DefaultActivator prefers an externally resolved hub and falls back to
// constructing one. Only constructed hubs are disposed on release.
type DefaultActivator[H any] struct {
	resolve   func() (H, bool)
	construct func() (H, error)

	created     atomic.Bool
	constructed bool
	released    atomic.Int32
}

// NewDefaultActivator returns an activator for hubs of type H. resolve may
// be nil.
func NewDefaultActivator[H any](resolve func() (H, bool), construct func() (H, error)) *DefaultActivator[H] {
	return &DefaultActivator[H]{resolve: resolve, construct: construct}
}

// Factory returns an ActivatorFactory building DefaultActivators with the
// same resolve and construct functions.
func Factory[H any](resolve func() (H, bool), construct func() (H, error)) ActivatorFactory {
	return func() Activator {
		return NewDefaultActivator(resolve, construct)
	}
}

func (a *DefaultActivator[H]) Create(ctx context.Context) (any, error) {
	if !a.created.CompareAndSwap(false, true) {
		return nil, errActivatorReused
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.resolve != nil {
		if h, ok := a.resolve(); ok {
			return h, nil
		}
	}
	h, err := a.construct()
	if err != nil {
		return nil, err
	}
	a.constructed = true
	return h, nil
}

func (a *DefaultActivator[H]) Release(hub any) error {
	a.released.Add(1)
	if hub == nil || !a.constructed {
		return nil
	}
	if closer, ok := hub.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Released reports how many times Release was called.
func (a *DefaultActivator[H]) Released() int {
	return int(a.released.Load())
}

// activation binds a hub to the Activator that created it so the release
// runs once no matter which exit path reaches it first.
type activation struct {
	activator Activator
	hub       any
	once      sync.Once
	err       error
}

// activate always returns a scope, including on failure, so the caller can
// release unconditionally.
func activate(ctx context.Context, activator Activator) (*activation, error) {
	scope := &activation{activator: activator}
	hub, err := activator.Create(ctx)
	scope.hub = hub
	return scope, err
}

func (a *activation) release() error {
	a.once.Do(func() {
		a.err = a.activator.Release(a.hub)
	})
	return a.err
}
