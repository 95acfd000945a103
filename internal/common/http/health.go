package http

import (
	"net/http"

	"github.com/AlibekovAA/hubrpc/internal/common/logger"
)

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// HealthHandler reports liveness and the number of live hub connections.
func HealthHandler(log *logger.Logger, connections func() int) http.HandlerFunc {
	return RequireMethod(http.MethodGet)(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if connections != nil {
			resp.Connections = connections()
		}
		log.Debugf("health check request connections=%d", resp.Connections)
		WriteJSON(w, http.StatusOK, resp)
	})
}
