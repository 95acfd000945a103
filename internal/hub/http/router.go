package http

import (
	"net/http"

	gorillaWS "github.com/gorilla/websocket"

	"github.com/AlibekovAA/hubrpc/internal/common/constants"
	commonhttp "github.com/AlibekovAA/hubrpc/internal/common/http"
	"github.com/AlibekovAA/hubrpc/internal/common/jwtverify"
	"github.com/AlibekovAA/hubrpc/internal/common/logger"
	"github.com/AlibekovAA/hubrpc/internal/hub"
)

type Config struct {
	// JWTSecret enables bearer-token authentication when non-empty.
	JWTSecret string
	// Limiter throttles upgrade attempts per client IP when set.
	Limiter *commonhttp.RateLimiter
}

type Handler struct {
	dispatcher *hub.Dispatcher
	upgrader   gorillaWS.Upgrader
	log        *logger.Logger
}

// NewHandler serves hub connections over WebSocket.
func NewHandler(dispatcher *hub.Dispatcher, cfg Config, log *logger.Logger) http.Handler {
	h := &Handler{
		dispatcher: dispatcher,
		upgrader: gorillaWS.Upgrader{
			ReadBufferSize:  constants.WebSocketReadBufferSize,
			WriteBufferSize: constants.WebSocketWriteBufferSize,
			CheckOrigin:     sameOrigin,
		},
		log: log,
	}

	var handler http.Handler = http.HandlerFunc(h.handleWebSocket)
	if cfg.JWTSecret != "" {
		handler = jwtverify.Middleware(cfg.JWTSecret, log)(handler)
	}
	if cfg.Limiter != nil {
		handler = cfg.Limiter.Middleware("upgrade", log)(handler)
	}
	return handler
}

// sameOrigin accepts non-browser clients and browsers on the serving host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return origin == "http://"+host || origin == "https://"+host
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !gorillaWS.IsWebSocketUpgrade(r) {
		commonhttp.WriteErrorEnvelope(w, http.StatusUpgradeRequired, commonhttp.CodeUpgradeRequired, "websocket upgrade required", nil, commonhttp.TraceIDFromContext(ctx))
		return
	}

	var opts []hub.ConnectOption
	claims, authenticated := jwtverify.FromContext(ctx)
	if authenticated {
		opts = append(opts, hub.WithUser(claims.UserID, claims.Username))
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"action": "ws_upgrade_failed",
		}).Errorf("websocket upgrade failed: %v", err)
		return
	}

	conn, err := h.dispatcher.Connect(ctx, socket, opts...)
	if err != nil {
		return
	}

	if authenticated {
		h.log.WithFields(ctx, logger.Fields{
			"connection_id": conn.ID(),
			"user_id":       claims.UserID,
			"username":      claims.Username,
			"action":        "ws_authenticated",
		}).Info("websocket client authenticated")
	}

	h.dispatcher.Serve(ctx, conn)
	conn.Wait()
}
