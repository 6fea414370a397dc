package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openrally/lobby-backend/internal/hub"
	"github.com/openrally/lobby-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, originPatterns []string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/rooms", CreateRoom())
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, originPatterns, log))
	return r
}
