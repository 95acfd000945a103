package constants

import "time"

const (
	JWTSecretMinLength = 32

	DefaultHubHTTPPort = "8082"

	DefaultWebSocketWriteWait      = 10 * time.Second
	DefaultWebSocketPongWait       = 60 * time.Second
	DefaultWebSocketPingPeriod     = 54 * time.Second
	DefaultWebSocketMaxMsgSize     = 20 * 1024 * 1024
	DefaultWebSocketSendBufSize    = 256
	DefaultWebSocketReceiveBufSize = 4 * 1024
	DefaultWebSocketSendTimeout    = 2 * time.Second
	DefaultWebSocketMessageBurst   = 32

	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024
	WebSocketCloseGrace      = time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	DefaultUpgradeRequestsPerSecond = 5
	DefaultUpgradeBurst             = 10
	RateLimitCleanupInterval        = 5 * time.Minute

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
