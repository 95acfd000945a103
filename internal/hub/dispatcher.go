package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	gorillaWS "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlibekovAA/hubrpc/internal/common/config"
	"github.com/AlibekovAA/hubrpc/internal/common/constants"
	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
	"github.com/AlibekovAA/hubrpc/internal/common/ids"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/observability/metrics"
)

const (
	invalidMethodName = "[Invalid Method Name]"
	noParameters      = "[No Parameters]"
)

type Options struct {
	// ThrowOnMissingHubMethodRequest makes unresolvable method requests a
	// protocol fault instead of an error reply.
	ThrowOnMissingHubMethodRequest bool
	// ThrowOnInvalidMessage makes unparseable messages a protocol fault
	// instead of an error reply.
	ThrowOnInvalidMessage bool

	Codec       Codec
	IDGenerator ids.IDGenerator
	// Manager, when set, tracks every active connection.
	Manager *ConnectionManager

	SendBufferSize    int
	SendTimeout       time.Duration
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxMessageSize    int64
	ReceiveBufferSize int

	// MaxMessagesPerSecond throttles inbound processing per connection;
	// zero disables the throttle.
	MaxMessagesPerSecond float64
	MessageBurst         int

	// OnProtocolFault is consulted for every strict-mode fault. Returning
	// true keeps the connection open; the default closes it.
	OnProtocolFault func(conn *Connection, err error) bool
}

func DefaultOptions() Options {
	return Options{
		Codec:             NewJSONCodec(),
		IDGenerator:       ids.NewUUIDGenerator(),
		SendBufferSize:    constants.DefaultWebSocketSendBufSize,
		SendTimeout:       constants.DefaultWebSocketSendTimeout,
		WriteWait:         constants.DefaultWebSocketWriteWait,
		PongWait:          constants.DefaultWebSocketPongWait,
		PingPeriod:        constants.DefaultWebSocketPingPeriod,
		MaxMessageSize:    constants.DefaultWebSocketMaxMsgSize,
		ReceiveBufferSize: constants.DefaultWebSocketReceiveBufSize,
		MessageBurst:      constants.DefaultWebSocketMessageBurst,
	}
}

func OptionsFromConfig(cfg config.HubConfig) Options {
	opts := DefaultOptions()
	opts.ThrowOnMissingHubMethodRequest = cfg.ThrowOnMissingHubMethodRequest
	opts.ThrowOnInvalidMessage = cfg.ThrowOnInvalidMessage
	opts.SendBufferSize = cfg.WebSocketSendBufSize
	opts.SendTimeout = cfg.WebSocketSendTimeout
	opts.WriteWait = cfg.WebSocketWriteWait
	opts.PongWait = cfg.WebSocketPongWait
	opts.PingPeriod = cfg.WebSocketPingPeriod
	opts.MaxMessageSize = cfg.WebSocketMaxMsgSize
	opts.ReceiveBufferSize = cfg.WebSocketReceiveBufSize
	opts.MaxMessagesPerSecond = cfg.MaxMessagesPerSecond
	opts.MessageBurst = cfg.MessageBurst
	return opts
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Codec == nil {
		o.Codec = def.Codec
	}
	if o.IDGenerator == nil {
		o.IDGenerator = def.IDGenerator
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = def.SendBufferSize
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = def.SendTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.ReceiveBufferSize <= 0 {
		o.ReceiveBufferSize = def.ReceiveBufferSize
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = def.MessageBurst
	}
	return o
}

// Dispatcher runs the hub protocol for every connection it accepts.
type Dispatcher struct {
	activators ActivatorFactory
	opts       Options
	log        *logger.Logger
}

func NewDispatcher(activators ActivatorFactory, opts Options, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		activators: activators,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

func (d *Dispatcher) Options() Options {
	return d.opts
}

type ConnectOption func(*Connection)

// WithUser attaches an authenticated identity to the connection.
func WithUser(userID, username string) ConnectOption {
	return func(c *Connection) {
		c.userID = userID
		c.username = username
	}
}

// session ties a connection to its activation. ended and active are guarded
// by mu so connect completion and teardown agree on who cleans up.
type session struct {
	conn   *Connection
	scope  *activation
	mu     sync.Mutex
	active bool
	ended  bool
}

func (d *Dispatcher) connectionConfig() connectionConfig {
	return connectionConfig{
		sendBufferSize:    d.opts.SendBufferSize,
		sendTimeout:       d.opts.SendTimeout,
		writeWait:         d.opts.WriteWait,
		pongWait:          d.opts.PongWait,
		pingPeriod:        d.opts.PingPeriod,
		maxMessageSize:    d.opts.MaxMessageSize,
		receiveBufferSize: d.opts.ReceiveBufferSize,
	}
}

// Connect activates a hub for socket, runs its connect hook and announces
// the connection id to the peer. On any failure the hub is released, the
// socket is closed and an ActivationFault is returned.
func (d *Dispatcher) Connect(ctx context.Context, socket Socket, opts ...ConnectOption) (*Connection, error) {
	id, err := d.opts.IDGenerator.NewID()
	if err != nil {
		socket.Close()
		metrics.IncrementError("activation_fault")
		return nil, commonerrors.ErrActivationFault.WithCause(err)
	}

	conn := newConnection(id, socket, d.connectionConfig(), d.opts.Codec, d.log)
	for _, opt := range opts {
		opt(conn)
	}

	scope, err := activate(ctx, d.activators())
	if err == nil && scope.hub == nil {
		err = commonerrors.ErrInvalidHub
	}

	s := &session{conn: conn, scope: scope}
	if err == nil {
		conn.hub = scope.hub
		conn.methods = methodsFor(scope.hub)
	}
	conn.onClose = func(reason error) { d.teardown(s, reason) }
	conn.start()

	if err == nil {
		err = d.runConnectHook(ctx, conn)
	}
	if err == nil {
		err = conn.Send(ctx, Message{MessageType: MessageTypeConnectionEvent, Data: conn.ID()})
	}
	if err == nil && !d.markActive(s) {
		err = conn.closedError()
	}

	if err != nil {
		fault := commonerrors.ErrActivationFault.WithCause(err)
		metrics.IncrementError("activation_fault")
		d.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"action":        "hub_activation_failed",
		}).Errorf("hub activation failed: %v", err)
		conn.Close(fault)
		return nil, fault
	}

	d.log.WithFields(ctx, logger.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"action":        "hub_connected",
	}).Info("hub connection established")
	return conn, nil
}

func (d *Dispatcher) runConnectHook(ctx context.Context, conn *Connection) (err error) {
	hook, ok := conn.hub.(ConnectHook)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in OnConnected: %v", r)
		}
	}()
	return hook.OnConnected(withConnection(ctx, conn), conn)
}

func (d *Dispatcher) markActive(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	if d.opts.Manager != nil && !d.opts.Manager.Add(s.conn) {
		return false
	}
	if !s.conn.activate() {
		if d.opts.Manager != nil {
			d.opts.Manager.Remove(s.conn)
		}
		return false
	}
	s.active = true
	metrics.IncrementActiveConnections()
	return true
}

// teardown runs once per connection from Connection.Close, before pending
// calls are failed.
func (d *Dispatcher) teardown(s *session, reason error) {
	s.mu.Lock()
	s.ended = true
	wasActive := s.active
	s.mu.Unlock()

	conn := s.conn
	ctx := withConnection(context.WithoutCancel(conn.Context()), conn)

	if wasActive {
		if hook, ok := conn.hub.(DisconnectHook); ok {
			d.runDisconnectHook(ctx, hook, conn, reason)
		}
		if d.opts.Manager != nil {
			d.opts.Manager.Remove(conn)
		}
		metrics.DecrementActiveConnections(disconnectReason(reason))
	}

	if err := s.scope.release(); err != nil {
		d.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"action":        "hub_release_failed",
		}).Warnf("hub release failed: %v", err)
	}

	if wasActive {
		fields := logger.Fields{
			"connection_id": conn.ID(),
			"action":        "hub_disconnected",
		}
		if reason != nil {
			fields["reason"] = reason.Error()
		}
		d.log.WithFields(ctx, fields).Info("hub connection closed")
	}
}

func (d *Dispatcher) runDisconnectHook(ctx context.Context, hook DisconnectHook, conn *Connection, reason error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(ctx, logger.Fields{
				"connection_id": conn.ID(),
				"action":        "hub_disconnect_hook_failed",
			}).Errorf("panic in OnDisconnected: %v", r)
		}
	}()
	if err := hook.OnDisconnected(ctx, conn, reason); err != nil {
		d.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"action":        "hub_disconnect_hook_failed",
		}).Warnf("OnDisconnected failed: %v", err)
	}
}

func disconnectReason(reason error) string {
	switch {
	case reason == nil:
		return "normal"
	case errors.Is(reason, commonerrors.ErrConnectionClosed):
		return "closed"
	case isProtocolFault(reason):
		return "protocol_fault"
	default:
		return "error"
	}
}

func isProtocolFault(err error) bool {
	return errors.Is(err, commonerrors.ErrInvalidMessage) || errors.Is(err, commonerrors.ErrInvalidMethodRequest)
}

// Serve runs the receive loop of conn until the peer goes away, a fault
// closes the connection or ctx is done. The connection is closed when Serve
// returns.
func (d *Dispatcher) Serve(ctx context.Context, conn *Connection) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close(commonerrors.ErrConnectionClosed.WithCause(context.Cause(ctx)))
	})
	defer stop()

	var limiter *rate.Limiter
	if d.opts.MaxMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.MaxMessagesPerSecond), d.opts.MessageBurst)
	}

	err := conn.readLoop(func(messageType int, text string) error {
		if limiter != nil {
			if err := limiter.Wait(conn.Context()); err != nil {
				return err
			}
		}
		err := d.receiveFrame(conn.Context(), conn, messageType, text)
		if err != nil && isProtocolFault(err) && d.opts.OnProtocolFault != nil && d.opts.OnProtocolFault(conn, err) {
			return nil
		}
		return err
	})

	if conn.Context().Err() != nil {
		// Another path is closing the connection.
		<-conn.Done()
		return conn.Err()
	}
	conn.Close(err)
	return err
}

// receiveFrame accepts only text messages; anything else is an invalid
// message.
func (d *Dispatcher) receiveFrame(ctx context.Context, conn *Connection, messageType int, text string) error {
	if messageType != gorillaWS.TextMessage {
		metrics.IncrementMessage("in", envelopeInvalid.String())
		return d.handleInvalidMessage(ctx, conn, strings.ToValidUTF8(text, "\uFFFD"), "")
	}
	return d.Receive(ctx, conn, text)
}

// Receive handles one complete text message from the peer. It returns a
// protocol fault only in strict mode; the fault message is the exact text
// reported to the host. Text that is not valid UTF-8 is an invalid message.
func (d *Dispatcher) Receive(ctx context.Context, conn *Connection, text string) error {
	if !utf8.ValidString(text) {
		metrics.IncrementMessage("in", envelopeInvalid.String())
		return d.handleInvalidMessage(ctx, conn, strings.ToValidUTF8(text, "\uFFFD"), "")
	}

	env := decodeEnvelope(text)
	metrics.IncrementMessage("in", env.kind.String())

	switch env.kind {
	case envelopeInvocation:
		return d.handleInvocation(ctx, conn, env)
	case envelopeResult:
		d.handleResult(ctx, conn, env)
		return nil
	default:
		return d.handleInvalidMessage(ctx, conn, text, env.id)
	}
}

func (d *Dispatcher) handleInvalidMessage(ctx context.Context, conn *Connection, text, id string) error {
	message := fmt.Sprintf("Invalid message received \"%s\" from %s", text, conn.ID())
	metrics.IncrementError("invalid_message")
	d.log.WithFields(ctx, logger.Fields{
		"connection_id": conn.ID(),
		"strict":        d.opts.ThrowOnInvalidMessage,
		"action":        "hub_invalid_message",
	}).Warn(message)

	if d.opts.ThrowOnInvalidMessage {
		return commonerrors.ErrInvalidMessage.WithMessage(message)
	}
	return d.sendResult(ctx, conn, id, nil, &message)
}

func (d *Dispatcher) handleInvocation(ctx context.Context, conn *Connection, env envelope) error {
	var method *hubMethod
	found := false
	if strings.TrimSpace(env.methodName) != "" && conn.methods != nil {
		method, found = conn.methods.lookup(env.methodName, len(env.arguments))
	}

	if !found {
		message := invalidMethodRequestMessage(conn.ID(), env.methodName, env.arguments)
		metrics.IncrementError("invalid_method_request")
		d.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"strict":        d.opts.ThrowOnMissingHubMethodRequest,
			"action":        "hub_invalid_method_request",
		}).Warn(message)

		if d.opts.ThrowOnMissingHubMethodRequest {
			return commonerrors.ErrInvalidMethodRequest.WithMessage(message)
		}
		return d.sendResult(ctx, conn, env.id, nil, &message)
	}

	started := time.Now()
	outcome := method.invoke(withConnection(conn.Context(), conn), conn.hub, d.opts.Codec, env.arguments)
	if isCompleted(outcome) {
		return d.complete(ctx, conn, method.name, env.id, outcome, started)
	}

	// Awaiting off the receive loop lets the method call back into the peer.
	go func() {
		err := d.complete(conn.Context(), conn, method.name, env.id, outcome, started)
		if err != nil && conn.Context().Err() == nil {
			metrics.IncrementError("result_send_failed")
			d.log.WithFields(ctx, logger.Fields{
				"connection_id": conn.ID(),
				"method":        method.name,
				"call_id":       env.id,
				"action":        "hub_result_send_failed",
			}).Warnf("hub result for %s not delivered: %v", method.name, err)
		}
	}()
	return nil
}

func invalidMethodRequestMessage(connectionID, methodName string, args []json.RawMessage) string {
	name := methodName
	if strings.TrimSpace(name) == "" {
		name = invalidMethodName
	}
	rendered := noParameters
	if len(args) > 0 {
		rendered = renderArguments(args)
	}
	return fmt.Sprintf("Invalid method request received from %s; method is \"%s(%s)\"", connectionID, name, rendered)
}

// complete awaits outcome and replies with its value or fault. Method
// faults never close the connection.
func (d *Dispatcher) complete(ctx context.Context, conn *Connection, method, id string, outcome Deferred, started time.Time) error {
	value, err := outcome.Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		fault := commonerrors.ErrMethodInvocationFault.WithCause(err)
		metrics.ObserveInvocation(method, "fault", time.Since(started).Seconds())
		metrics.IncrementError(strings.ToLower(fault.Code()))
		d.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"method":        method,
			"call_id":       id,
			"error_code":    fault.Code(),
			"action":        "hub_method_fault",
		}).Warnf("hub method %s: %v", method, fault)

		// The peer sees the method's own error text.
		text := err.Error()
		return d.sendResult(ctx, conn, id, nil, &text)
	}

	metrics.ObserveInvocation(method, "success", time.Since(started).Seconds())

	raw, err := d.opts.Codec.Encode(value)
	if err != nil {
		metrics.IncrementError("result_encode")
		text := commonerrors.ErrMarshalError.WithCause(err).Error()
		return d.sendResult(ctx, conn, id, nil, &text)
	}
	return d.sendResult(ctx, conn, id, raw, nil)
}

func (d *Dispatcher) sendResult(ctx context.Context, conn *Connection, id string, result json.RawMessage, errText *string) error {
	data, err := json.Marshal(InvocationResultDescriptor{
		ID:     id,
		Result: result,
		Error:  errText,
	})
	if err != nil {
		return commonerrors.ErrMarshalError.WithCause(err)
	}
	err = conn.Send(ctx, Message{MessageType: MessageTypeInvocationResult, Data: string(data)})
	if errors.Is(err, commonerrors.ErrConnectionClosed) {
		return nil
	}
	return err
}

func (d *Dispatcher) handleResult(ctx context.Context, conn *Connection, env envelope) {
	var delivered bool
	if env.errText != nil {
		delivered = conn.pending.Fault(env.id, commonerrors.ErrRemoteFault.WithMessage(*env.errText))
	} else {
		delivered = conn.pending.Resolve(env.id, env.result)
	}
	if delivered {
		return
	}

	metrics.IncrementError("unknown_correlation")
	d.log.WithFields(ctx, logger.Fields{
		"connection_id": conn.ID(),
		"call_id":       env.id,
		"action":        "hub_unknown_correlation",
	}).Warnf("%v: %s", commonerrors.ErrUnknownCorrelation, env.id)
}
