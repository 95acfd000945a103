package hub

import (
	"context"
	"sync"
	"sync/atomic"

	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
)

// ConnectionManager addresses live connections by id.
type ConnectionManager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

// Add registers conn. It reports false when the id is already taken.
func (m *ConnectionManager) Add(conn *Connection) bool {
	if _, loaded := m.connections.LoadOrStore(conn.ID(), conn); loaded {
		return false
	}
	m.count.Add(1)
	return true
}

// Remove drops conn if it is still the registered connection for its id.
func (m *ConnectionManager) Remove(conn *Connection) {
	if m.connections.CompareAndDelete(conn.ID(), conn) {
		m.count.Add(-1)
	}
}

func (m *ConnectionManager) Get(id string) (*Connection, bool) {
	v, ok := m.connections.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

func (m *ConnectionManager) Count() int {
	return int(m.count.Load())
}

// Range calls fn for each live connection until fn returns false.
func (m *ConnectionManager) Range(fn func(conn *Connection) bool) {
	m.connections.Range(func(_, v any) bool {
		return fn(v.(*Connection))
	})
}

// Shutdown closes every live connection and waits until each has closed or
// ctx is done.
func (m *ConnectionManager) Shutdown(ctx context.Context) error {
	var closing []*Connection
	m.Range(func(conn *Connection) bool {
		closing = append(closing, conn)
		return true
	})

	reason := commonerrors.ErrConnectionClosed.WithMessage("server shutting down")
	for _, conn := range closing {
		go conn.Close(reason)
	}

	for _, conn := range closing {
		select {
		case <-conn.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
