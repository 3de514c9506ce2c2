package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core/transport"
)

type AuthHandler struct {
	service service.AuthService
	cookies *auth.Cookies
}

type SessionResponse struct {
	User    *service.User `json:"user"`
	Expires string        `json:"expires"`
	Notice  string        `json:"notice,omitempty"`
}

// cookieResponse sets or clears the session cookie before writing the JSON
// body.
type cookieResponse struct {
	cookies *auth.Cookies
	session *service.Session
	status  int
	body    any
}

func (c *cookieResponse) Encode(w http.ResponseWriter) error {
	if c.session != nil {
		c.cookies.SetSession(w, c.session)
	} else {
		c.cookies.ClearSession(w)
	}

	if c.body == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(c.status)

	return json.NewEncoder(w).Encode(c.body)
}

func (h *AuthHandler) Login(ctx context.Context, _ *http.Request, in service.LoginDto) (*cookieResponse, error) {
	session, err := h.service.Login(ctx, in)
	if err != nil {
		return nil, err
	}

	return &cookieResponse{
		cookies: h.cookies,
		session: session,
		status:  http.StatusOK,
		body:    sessionResponse(session, "Signed in."),
	}, nil
}

func (h *AuthHandler) Register(ctx context.Context, _ *http.Request, in service.RegisterDto) (*transport.Created, error) {
	user, err := h.service.Register(ctx, in)
	if err != nil {
		return nil, err
	}

	return transport.NewCreated(user), nil
}

func (h *AuthHandler) Logout(ctx context.Context, r *http.Request, _ any) (*cookieResponse, error) {
	if err := h.service.Logout(ctx, h.cookies.SessionToken(r)); err != nil {
		return nil, err
	}

	return &cookieResponse{cookies: h.cookies}, nil
}

func (h *AuthHandler) ForgotPassword(ctx context.Context, _ *http.Request, in service.ForgotPasswordDto) (*transport.Empty, error) {
	if err := h.service.ForgotPassword(ctx, in); err != nil {
		return nil, err
	}

	return &transport.Empty{}, nil
}

func (h *AuthHandler) UpdatePassword(ctx context.Context, r *http.Request, in service.UpdatePasswordDto) (*transport.Empty, error) {
	if err := h.service.UpdatePassword(ctx, h.cookies.SessionToken(r), in); err != nil {
		return nil, err
	}

	return &transport.Empty{}, nil
}

func (h *AuthHandler) Session(ctx context.Context, _ *http.Request, _ any) (*SessionResponse, error) {
	const op errs.Op = "AuthHandler.Session"

	session := auth.GetSession(ctx)
	if session == nil {
		return nil, errs.E(errs.Unauthenticated, op, errs.Str("not signed in"))
	}

	return sessionResponse(session, ""), nil
}

func sessionResponse(s *service.Session, notice string) *SessionResponse {
	return &SessionResponse{
		User:    s.User(),
		Expires: s.Expires.UTC().Format(time.RFC3339),
		Notice:  notice,
	}
}

func NewAuthHandler(s service.AuthService, cookies *auth.Cookies) *AuthHandler {
	return &AuthHandler{
		service: s,
		cookies: cookies,
	}
}
