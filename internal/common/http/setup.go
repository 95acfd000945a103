package http

import (
	"net/http"

	"github.com/AlibekovAA/hubrpc/internal/common/httpmetrics"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

// BuildBaseHandler wraps handler with the middleware every route shares.
func BuildBaseHandler(log *logger.Logger, handler http.Handler) http.Handler {
	collector := httpmetrics.New()
	recovery := RecoveryMiddleware(log)

	return SecurityHeadersMiddleware(recovery(TraceIDMiddleware(collector.Wrap(handler))))
}
