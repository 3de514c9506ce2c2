package routes

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/alris/cms-backend/pkg/service/core/console"
)

type ConsoleEndpoints struct {
	Home           http.HandlerFunc
	List           http.HandlerFunc
	Add            http.HandlerFunc
	Edit           http.HandlerFunc
	View           http.HandlerFunc
	Delete         http.HandlerFunc
	Login          http.HandlerFunc
	Register       http.HandlerFunc
	ForgotPassword http.HandlerFunc
	ResetPassword  http.HandlerFunc
	Logout         http.HandlerFunc
	NotFound       http.HandlerFunc
}

func NewConsoleEndpoints(c *console.Console) *ConsoleEndpoints {
	return &ConsoleEndpoints{
		Home:           c.Home,
		List:           c.List,
		Add:            c.Add,
		Edit:           c.Edit,
		View:           c.View,
		Delete:         c.Delete,
		Login:          c.Login,
		Register:       c.Register,
		ForgotPassword: c.ForgotPassword,
		ResetPassword:  c.ResetPassword,
		Logout:         c.Logout,
		NotFound:       c.NotFound,
	}
}

// NewConsoleRoutes serves the HTML pages. Collection pages need a signed in
// user; login, register and forgot-password are for anonymous users only.
func NewConsoleRoutes(endpoints *ConsoleEndpoints, requireUser, requireAnonymous func(http.Handler) http.Handler) AddRoutesFn {
	return func(router chi.Router) {
		router.NotFound(endpoints.NotFound)

		router.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireAnonymous)
				r.Get("/login", endpoints.Login)
				r.Post("/login", endpoints.Login)
				r.Get("/register", endpoints.Register)
				r.Post("/register", endpoints.Register)
				r.Get("/forgot-password", endpoints.ForgotPassword)
				r.Post("/forgot-password", endpoints.ForgotPassword)
			})

			r.With(requireUser).Get("/reset-password", endpoints.ResetPassword)
			r.With(requireUser).Post("/reset-password", endpoints.ResetPassword)
			r.Post("/logout", endpoints.Logout)
			r.Get("/404", endpoints.NotFound)
		})

		router.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/", endpoints.Home)
			r.Get("/{collection}", endpoints.List)
			r.Get("/{collection}/add", endpoints.Add)
			r.Post("/{collection}/add", endpoints.Add)
			r.Get("/{collection}/edit/{id}", endpoints.Edit)
			r.Post("/{collection}/edit/{id}", endpoints.Edit)
			r.Get("/{collection}/view/{id}", endpoints.View)
			r.Get("/{collection}/delete/{id}", endpoints.Delete)
			r.Post("/{collection}/delete/{id}", endpoints.Delete)
		})
	}
}
