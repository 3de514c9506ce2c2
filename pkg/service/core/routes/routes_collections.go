package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/transport"
)

type CollectionEndpoints struct {
	List   http.HandlerFunc
	Get    http.HandlerFunc
	Create http.HandlerFunc
	Update http.HandlerFunc
	Delete http.HandlerFunc
	Form   http.HandlerFunc
}

func NewCollectionEndpoints(log zerolog.Logger, h *handlers.CollectionHandler, opts ...transport.BuildOption) *CollectionEndpoints {
	return &CollectionEndpoints{
		List:   transport.For(h.List).Build(log, opts...),
		Get:    transport.For(h.Get).Build(log, opts...),
		Create: transport.For(h.Create).RequestFromJSON().Build(log, opts...),
		Update: transport.For(h.Update).RequestFromJSON().Build(log, opts...),
		Delete: transport.For(h.Delete).Build(log, opts...),
		Form:   transport.For(h.Form).Build(log, opts...),
	}
}

func NewCollectionRoutes(endpoints *CollectionEndpoints, auth func(http.Handler) http.Handler) AddRoutesFn {
	return func(router chi.Router) {
		router.Route("/api/collections/{collection}", func(r chi.Router) {
			r.Use(auth)
			r.Get("/", endpoints.List)
			r.Post("/", endpoints.Create)
			r.Get("/form", endpoints.Form)
			r.Get("/{id}", endpoints.Get)
			r.Put("/{id}", endpoints.Update)
			r.Delete("/{id}", endpoints.Delete)
		})
	}
}
