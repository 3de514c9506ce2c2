package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/transport"
)

type ViewEndpoints struct {
	Open          http.HandlerFunc
	Get           http.HandlerFunc
	SetPage       http.HandlerFunc
	SetPageSize   http.HandlerFunc
	SetSort       http.HandlerFunc
	SetSearch     http.HandlerFunc
	Refresh       http.HandlerFunc
	SetCollection http.HandlerFunc
	RequestDelete http.HandlerFunc
	ConfirmDelete http.HandlerFunc
	CancelDelete  http.HandlerFunc
	Close         http.HandlerFunc
}

func NewViewEndpoints(log zerolog.Logger, h *handlers.ViewHandler, opts ...transport.BuildOption) *ViewEndpoints {
	return &ViewEndpoints{
		Open:          transport.For(h.Open).RequestFromJSON().Build(log, opts...),
		Get:           transport.For(h.Get).Build(log, opts...),
		SetPage:       transport.For(h.SetPage).RequestFromJSON().Build(log, opts...),
		SetPageSize:   transport.For(h.SetPageSize).RequestFromJSON().Build(log, opts...),
		SetSort:       transport.For(h.SetSort).RequestFromJSON().Build(log, opts...),
		SetSearch:     transport.For(h.SetSearch).RequestFromJSON().Build(log, opts...),
		Refresh:       transport.For(h.Refresh).Build(log, opts...),
		SetCollection: transport.For(h.SetCollection).RequestFromJSON().Build(log, opts...),
		RequestDelete: transport.For(h.RequestDelete).RequestFromJSON().Build(log, opts...),
		ConfirmDelete: transport.For(h.ConfirmDelete).Build(log, opts...),
		CancelDelete:  transport.For(h.CancelDelete).Build(log, opts...),
		Close:         transport.For(h.Close).Build(log, opts...),
	}
}

func NewViewRoutes(endpoints *ViewEndpoints, auth func(http.Handler) http.Handler) AddRoutesFn {
	return func(router chi.Router) {
		router.Route("/api/views", func(r chi.Router) {
			r.Use(auth)
			r.Post("/", endpoints.Open)
			r.Get("/{id}", endpoints.Get)
			r.Delete("/{id}", endpoints.Close)
			r.Post("/{id}/page", endpoints.SetPage)
			r.Post("/{id}/page-size", endpoints.SetPageSize)
			r.Post("/{id}/sort", endpoints.SetSort)
			r.Post("/{id}/search", endpoints.SetSearch)
			r.Post("/{id}/refresh", endpoints.Refresh)
			r.Post("/{id}/collection", endpoints.SetCollection)
			r.Post("/{id}/delete", endpoints.RequestDelete)
			r.Post("/{id}/delete/confirm", endpoints.ConfirmDelete)
			r.Post("/{id}/delete/cancel", endpoints.CancelDelete)
		})
	}
}
