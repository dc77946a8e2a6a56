package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST handlers and the conversation websocket endpoint.
func NewRouter(api *Handler, conversations http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	api.Register(r)
	if conversations != nil {
		r.Method(http.MethodGet, "/conversation/{username}/", conversations)
	}
	return r
}
