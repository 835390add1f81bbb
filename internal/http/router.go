package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"liveclass-api/internal/handlers"
)

func NewRouter(h *handlers.RoomHandler, rec *handlers.RecordingHandler, wsHandler *handlers.WebSocketHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link", "X-Recording-Started-By"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api/v1/rooms", func(r chi.Router) {
		r.Post("/create", h.Create)
		r.Get("/", h.List)
		r.Get("/{roomId}", h.Get)
		r.Post("/{roomId}/close", h.Close)
		r.Post("/{roomId}/touch", h.Touch)
	})

	r.Post("/api/v1/recordings", rec.Upload)
	r.Get("/api/v1/recordings/{roomId}", rec.Get)

	// WebSocketエンドポイント。ルームへの参加は接続後のjoin-roomメッセージで行う
	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}
