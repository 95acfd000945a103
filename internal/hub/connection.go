package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/observability/metrics"
)

type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connectionConfig struct {
	sendBufferSize    int
	sendTimeout       time.Duration
	writeWait         time.Duration
	pongWait          time.Duration
	pingPeriod        time.Duration
	maxMessageSize    int64
	receiveBufferSize int
}

// Connection is one peer session: identity, serialized sends, outgoing call
// correlation and the hub instance bound to it.
type Connection struct {
	id       string
	userID   string
	username string
	socket   Socket
	cfg      connectionConfig
	codec    Codec
	log      *logger.Logger

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closing   atomic.Bool
	reason    error

	ctx    context.Context
	cancel context.CancelFunc

	pending *PendingCalls
	callSeq atomic.Uint64

	hub     any
	methods *methodTable
	// onClose runs the dispatcher teardown; set once the hub is bound.
	onClose func(reason error)
	writer  sync.WaitGroup
}

func newConnection(id string, socket Socket, cfg connectionConfig, codec Codec, log *logger.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		socket:  socket,
		cfg:     cfg,
		codec:   codec,
		log:     log,
		send:    make(chan []byte, cfg.sendBufferSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		pending: NewPendingCalls(codec),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// start launches the writer. Everything Close reads must be set before.
func (c *Connection) start() {
	c.writer.Add(1)
	go c.writePump()
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) Username() string {
	return c.username
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Context is cancelled when the connection starts closing.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Done is closed once the connection reached StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection closed, if any.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.reason
	default:
		return nil
	}
}

func (c *Connection) Hub() any {
	return c.hub
}

func (c *Connection) Pending() *PendingCalls {
	return c.pending
}

func (c *Connection) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// activate moves a connecting connection to active. It fails once Close has
// started.
func (c *Connection) activate() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// Send queues msg on the connection's single writer. It fails with
// ErrConnectionClosed once the connection is closed.
func (c *Connection) Send(ctx context.Context, msg Message) error {
	if c.State() == StateClosed {
		return c.closedError()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return commonerrors.ErrMarshalError.WithCause(err)
	}

	timer := time.NewTimer(c.cfg.sendTimeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.closedError()
	default:
	}

	select {
	case c.send <- data:
		metrics.HubSendQueueSize.Observe(float64(len(c.send)))
		metrics.IncrementMessage("out", msg.MessageType.String())
		return nil
	case <-c.done:
		return c.closedError()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.log.WithFields(ctx, logger.Fields{
			"connection_id": c.id,
			"type":          msg.MessageType.String(),
			"action":        "hub_send_timeout",
		}).Warn("hub send timed out")
		return fmt.Errorf("%w: connection %s", commonerrors.ErrSendTimeout, c.id)
	}
}

// SendText sends a plain text notification to the peer.
func (c *Connection) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, Message{MessageType: MessageTypeText, Data: text})
}

func (c *Connection) closedError() error {
	return commonerrors.ErrConnectionClosed.WithMessage(fmt.Sprintf("connection %s closed", c.id))
}

// Close tears the connection down exactly once: pending calls fail and the
// table stops accepting calls, the bound hub's disconnect hook and release
// run, then the state becomes Closed. A nil reason means a clean close. Only
// the first caller performs the teardown; others return immediately and may
// wait on Done.
func (c *Connection) Close(reason error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}

	c.setState(StateClosing)
	c.reason = reason
	c.cancel()

	// No reply can arrive once the read loop is gone, so calls issued from
	// here on, including from the disconnect hook, must fail immediately.
	if n := c.pending.CancelAll(c.id); n > 0 {
		c.log.WithFields(c.ctx, logger.Fields{
			"connection_id": c.id,
			"pending":       n,
			"action":        "hub_pending_cancelled",
		}).Info("hub pending calls failed on close")
	}

	if c.onClose != nil {
		c.onClose(reason)
	}

	c.setState(StateClosed)
	close(c.done)
}

// Wait blocks until the writer has flushed and closed the socket.
func (c *Connection) Wait() {
	c.writer.Wait()
}

// InvokeAsync issues a call to the peer and returns its pending handle. The
// reply is decoded into resultType; a nil resultType discards it.
func (c *Connection) InvokeAsync(ctx context.Context, method string, resultType reflect.Type, args ...any) (*PendingCall, error) {
	if c.closing.Load() {
		metrics.IncrementOutgoingCall("rejected")
		return nil, c.closedError()
	}

	rawArgs, err := encodeArguments(c.codec, args)
	if err != nil {
		return nil, commonerrors.ErrMarshalError.WithCause(err)
	}

	id := strconv.FormatUint(c.callSeq.Add(1), 10)
	call, err := c.pending.Register(ctx, id, resultType)
	if err != nil {
		metrics.IncrementOutgoingCall("rejected")
		return nil, err
	}

	data, err := json.Marshal(InvocationDescriptor{
		ID:         id,
		MethodName: method,
		Arguments:  rawArgs,
	})
	if err != nil {
		c.pending.Fault(id, commonerrors.ErrMarshalError.WithCause(err))
		return call, nil
	}

	if err := c.Send(ctx, Message{MessageType: MessageTypeClientMethodInvocation, Data: string(data)}); err != nil {
		c.pending.Fault(id, err)
	}
	return call, nil
}

// Invoke calls method on the peer and waits for its reply, a fault,
// cancellation of ctx or the connection closing.
func (c *Connection) Invoke(ctx context.Context, method string, resultType reflect.Type, args ...any) (any, error) {
	call, err := c.InvokeAsync(ctx, method, resultType, args...)
	if err != nil {
		return nil, err
	}
	v, err := call.Wait()
	metrics.IncrementOutgoingCall(outcomeLabel(err))
	return v, err
}

// Invoke calls method on the peer and decodes the reply as T.
func Invoke[T any](ctx context.Context, c *Connection, method string, args ...any) (T, error) {
	var zero T
	v, err := c.Invoke(ctx, method, reflect.TypeOf((*T)(nil)).Elem(), args...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, commonerrors.ErrResultDecode.WithMessage(fmt.Sprintf("unexpected result type %T", v))
	}
	return typed, nil
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, commonerrors.ErrCallCancelled):
		return "cancelled"
	case errors.Is(err, commonerrors.ErrConnectionClosed):
		return "connection_closed"
	default:
		return "fault"
	}
}
