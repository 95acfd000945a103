package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/AlibekovAA/hubrpc/internal/common/constants"
	commonerrors "github.com/AlibekovAA/hubrpc/internal/common/errors"
	"github.com/AlibekovAA/hubrpc/internal/common/httpmetrics"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/observability/metrics"
)

// HandleError writes err as an error envelope. Domain errors keep their
// status and code; anything else becomes INTERNAL_ERROR with a 500.
func HandleError(w http.ResponseWriter, r *http.Request, err error, log *logger.Logger) {
	if err == nil {
		return
	}

	ctx := r.Context()
	traceID := TraceIDFromContext(ctx)
	if traceID != "" {
		w.Header().Set(traceIDHeader, traceID)
	}

	domainErr, ok := commonerrors.AsDomainError(err)
	if !ok {
		log.WithFields(ctx, logger.Fields{
			"error":  err.Error(),
			"action": "unhandled_error",
		}).Errorf("unhandled error: %v", err)
		domainErr = commonerrors.ErrInternalError.WithCause(err)
	}

	status := domainErr.HTTPStatus()
	log.WithFields(ctx, logger.Fields{
		"error_code": domainErr.Code(),
		"category":   string(domainErr.Category()),
		"status":     status,
		"action":     "domain_error",
	}).Debugf("domain error: %s", domainErr.Error())

	metrics.DomainErrorsTotal.WithLabelValues(
		string(domainErr.Category()),
		domainErr.Code(),
		strconv.Itoa(status),
	).Inc()
	metrics.HTTPErrorsTotal.WithLabelValues(
		strconv.Itoa(status),
		httpmetrics.NormalizePath(r.URL.Path),
		r.Method,
	).Inc()

	WriteErrorEnvelope(w, status, domainErr.Code(), domainErr.Message(), nil, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(constants.TraceIDKey).(string)
	return traceID
}
