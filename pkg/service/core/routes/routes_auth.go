package routes

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/transport"
)

type AuthEndpoints struct {
	Login          http.HandlerFunc
	Register       http.HandlerFunc
	Logout         http.HandlerFunc
	ForgotPassword http.HandlerFunc
	UpdatePassword http.HandlerFunc
	Session        http.HandlerFunc
}

func NewAuthEndpoints(log zerolog.Logger, h *handlers.AuthHandler, opts ...transport.BuildOption) *AuthEndpoints {
	return &AuthEndpoints{
		Login:          transport.For(h.Login).RequestFromJSON().Build(log, opts...),
		Register:       transport.For(h.Register).RequestFromJSON().Build(log, opts...),
		Logout:         transport.For(h.Logout).Build(log, opts...),
		ForgotPassword: transport.For(h.ForgotPassword).RequestFromJSON().Build(log, opts...),
		UpdatePassword: transport.For(h.UpdatePassword).RequestFromJSON().Build(log, opts...),
		Session:        transport.For(h.Session).Build(log, opts...),
	}
}

func NewAuthRoutes(endpoints *AuthEndpoints, auth func(http.Handler) http.Handler) AddRoutesFn {
	return func(router chi.Router) {
		router.Route("/api/auth", func(r chi.Router) {
			r.Post("/login", endpoints.Login)
			r.Post("/register", endpoints.Register)
			r.Post("/logout", endpoints.Logout)
			r.Post("/forgot-password", endpoints.ForgotPassword)
			r.With(auth).Post("/password", endpoints.UpdatePassword)
			r.With(auth).Get("/session", endpoints.Session)
		})
	}
}
