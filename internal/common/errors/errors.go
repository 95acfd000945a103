package commonerrors

import "errors"

var (
	ErrMissingRequiredEnv = errors.New("missing required environment variable")
	ErrInvalidJWTSecret   = errors.New("HUB_JWT_SECRET must be at least 32 bytes")
	ErrInvalidConfig      = errors.New("invalid configuration")
)
