package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
	"github.com/AlibekovAA/hubrpc/internal/observability/metrics"
)

type CallResult struct {
	Value any
	Err   error
}

// PendingCall is a server-issued call awaiting the peer's reply.
type PendingCall struct {
	ID         string
	resultType reflect.Type
	done       chan CallResult
	stop       func() bool
}

// Done delivers exactly one CallResult.
func (c *PendingCall) Done() <-chan CallResult {
	return c.done
}

func (c *PendingCall) Wait() (any, error) {
	res := <-c.done
	return res.Value, res.Err
}

// PendingCalls correlates outgoing calls with their replies. It is safe for
// concurrent use by the receive loop and any number of callers.
type PendingCalls struct {
	mu       sync.Mutex
	calls    map[string]*PendingCall
	codec    Codec
	closed   bool
	closeErr error
}

func NewPendingCalls(codec Codec) *PendingCalls {
	if codec == nil {
		codec = NewJSONCodec()
	}
	return &PendingCalls{
		calls: make(map[string]*PendingCall),
		codec: codec,
	}
}

// Register records a waiter for id. Cancelling ctx before a reply arrives
// removes the entry and delivers a cancellation fault.
func (t *PendingCalls) Register(ctx context.Context, id string, resultType reflect.Type) (*PendingCall, error) {
	call := &PendingCall{
		ID:         id,
		resultType: resultType,
		done:       make(chan CallResult, 1),
	}

	t.mu.Lock()
	if t.closed {
		err := t.closeErr
		t.mu.Unlock()
		return nil, err
	}
	if _, exists := t.calls[id]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", commonerrors.ErrDuplicateCallID, id)
	}
	t.calls[id] = call
	// The callback runs on its own goroutine, so registering it under the
	// lock cannot deadlock even when ctx is already done.
	call.stop = context.AfterFunc(ctx, func() {
		t.Fault(id, commonerrors.ErrCallCancelled.WithCause(context.Cause(ctx)))
	})
	t.mu.Unlock()
	metrics.HubPendingCalls.Inc()

	return call, nil
}

func (t *PendingCalls) take(id string) (*PendingCall, bool) {
	t.mu.Lock()
	call, ok := t.calls[id]
	var stop func() bool
	if ok {
		delete(t.calls, id)
		stop = call.stop
	}
	t.mu.Unlock()
	if ok {
		metrics.HubPendingCalls.Dec()
		stop()
	}
	return call, ok
}

// Resolve decodes raw with the type registered for id and delivers it.
// It reports false when id is not pending.
func (t *PendingCalls) Resolve(id string, raw json.RawMessage) bool {
	call, ok := t.take(id)
	if !ok {
		return false
	}

	if call.resultType == nil {
		call.done <- CallResult{}
		return true
	}
	v, err := t.codec.Decode(raw, call.resultType)
	if err != nil {
		call.done <- CallResult{Err: commonerrors.ErrResultDecode.WithCause(err)}
		return true
	}
	call.done <- CallResult{Value: v.Interface()}
	return true
}

// Fault delivers err instead of a value. It reports false when id is not
// pending.
func (t *PendingCalls) Fault(id string, err error) bool {
	call, ok := t.take(id)
	if !ok {
		return false
	}
	call.done <- CallResult{Err: err}
	return true
}

// CancelAll faults every outstanding call with a connection-closed error and
// rejects later registrations. It returns the number of calls faulted.
func (t *PendingCalls) CancelAll(connectionID string) int {
	closeErr := commonerrors.ErrConnectionClosed.WithMessage(fmt.Sprintf("connection %s closed", connectionID))

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		t.closeErr = closeErr
	}
	ids := make([]string, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	faulted := 0
	for _, id := range ids {
		if t.Fault(id, closeErr) {
			faulted++
		}
	}
	return faulted
}

func (t *PendingCalls) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
