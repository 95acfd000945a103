package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AlibekovAA/hubrpc/internal/common/constants"
	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
)

type HubConfig struct {
	HTTPPort  string `validate:"required,numeric"`
	JWTSecret string `validate:"omitempty,min=32"`

	// ThrowOnMissingHubMethodRequest turns unresolved method requests into
	// connection faults instead of error replies.
	ThrowOnMissingHubMethodRequest bool
	// ThrowOnInvalidMessage turns unparseable messages into connection faults
	// instead of error replies.
	ThrowOnInvalidMessage bool

	WebSocketWriteWait      time.Duration `validate:"gt=0"`
	WebSocketPongWait       time.Duration `validate:"gt=0"`
	WebSocketPingPeriod     time.Duration `validate:"gt=0,ltfield=WebSocketPongWait"`
	WebSocketMaxMsgSize     int64         `validate:"gt=0"`
	WebSocketSendBufSize    int           `validate:"gt=0"`
	WebSocketReceiveBufSize int           `validate:"gt=0"`
	WebSocketSendTimeout    time.Duration `validate:"gt=0"`
	MaxMessagesPerSecond    float64       `validate:"gte=0"`
	MessageBurst            int           `validate:"gt=0"`

	UpgradeRequestsPerSecond float64 `validate:"gte=0"`
	UpgradeBurst             int     `validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func LoadHubConfig() (HubConfig, error) {
	cfg := HubConfig{
		HTTPPort:                       getEnv("HUB_HTTP_PORT", constants.DefaultHubHTTPPort),
		JWTSecret:                      getEnv("HUB_JWT_SECRET", ""),
		ThrowOnMissingHubMethodRequest: getBoolEnv("HUB_THROW_ON_MISSING_METHOD", false),
		ThrowOnInvalidMessage:          getBoolEnv("HUB_THROW_ON_INVALID_MESSAGE", false),
		WebSocketWriteWait:             getDurationEnv("HUB_WS_WRITE_WAIT", constants.DefaultWebSocketWriteWait),
		WebSocketPongWait:              getDurationEnv("HUB_WS_PONG_WAIT", constants.DefaultWebSocketPongWait),
		WebSocketPingPeriod:            getDurationEnv("HUB_WS_PING_PERIOD", constants.DefaultWebSocketPingPeriod),
		WebSocketMaxMsgSize:            getInt64Env("HUB_WS_MAX_MSG_SIZE", constants.DefaultWebSocketMaxMsgSize),
		WebSocketSendBufSize:           getIntEnv("HUB_WS_SEND_BUF_SIZE", constants.DefaultWebSocketSendBufSize),
		WebSocketReceiveBufSize:        getIntEnv("HUB_WS_RECEIVE_BUF_SIZE", constants.DefaultWebSocketReceiveBufSize),
		WebSocketSendTimeout:           getDurationEnv("HUB_WS_SEND_TIMEOUT", constants.DefaultWebSocketSendTimeout),
		MaxMessagesPerSecond:           getFloatEnv("HUB_WS_MAX_MESSAGES_PER_SECOND", 0),
		MessageBurst:                   getIntEnv("HUB_WS_MESSAGE_BURST", constants.DefaultWebSocketMessageBurst),
		UpgradeRequestsPerSecond:       getFloatEnv("HUB_UPGRADE_RATE_PER_SECOND", constants.DefaultUpgradeRequestsPerSecond),
		UpgradeBurst:                   getIntEnv("HUB_UPGRADE_BURST", constants.DefaultUpgradeBurst),
	}

	if err := cfg.Validate(); err != nil {
		return HubConfig{}, err
	}
	return cfg, nil
}

func (c HubConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				if fe.Field() == "JWTSecret" {
					return fmt.Errorf("%w: got %d bytes", commonerrors.ErrInvalidJWTSecret, len(c.JWTSecret))
				}
			}
		}
		return fmt.Errorf("%w: %v", commonerrors.ErrInvalidConfig, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64Env(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloatEnv(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
