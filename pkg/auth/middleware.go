// Package auth resolves the signed in user of a request and guards routes
// by authentication state.
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

type MiddlewareHandler func(http.Handler) http.Handler

type contextKey int

const (
	ContextUserKey contextKey = iota + 1
	ContextSessionKey
)

// LoginPath is where unauthenticated users are sent.
const LoginPath = "/auth/login"

func GetUser(ctx context.Context) *service.User {
	user := ctx.Value(ContextUserKey)
	if user == nil {
		return nil
	}

	return user.(*service.User)
}

func SetUser(ctx context.Context, user *service.User) context.Context {
	return context.WithValue(ctx, ContextUserKey, user)
}

func GetSession(ctx context.Context) *service.Session {
	sess := ctx.Value(ContextSessionKey)
	if sess == nil {
		return nil
	}

	return sess.(*service.Session)
}

func SetSession(ctx context.Context, sess *service.Session) context.Context {
	ctx = context.WithValue(ctx, ContextSessionKey, sess)

	return SetUser(ctx, sess.User())
}

// AccessToken is the provider token of the request's session, or "".
func AccessToken(ctx context.Context) string {
	if sess := GetSession(ctx); sess != nil {
		return sess.AccessToken
	}

	return ""
}

type SessionRetriever interface {
	Session(ctx context.Context, token string) (*service.Session, error)
}

type Middleware struct {
	sessions   SessionRetriever
	cookieName string
	jwtSecret  string
	clock      clock.PassiveClock
	log        zerolog.Logger
}

// NewMiddleware resolves sessions from the named cookie. When jwtSecret is
// set the session's access token must also verify against it, and requests
// without the cookie may authenticate with the provider access token as
// "Authorization: Bearer <token>".
func NewMiddleware(sessions SessionRetriever, cookieName, jwtSecret string, clk clock.PassiveClock, log zerolog.Logger) *Middleware {
	return &Middleware{
		sessions:   sessions,
		cookieName: cookieName,
		jwtSecret:  jwtSecret,
		clock:      clk,
		log:        log,
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cookie, err := r.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			if sess := m.bearerSession(r); sess != nil {
				ctx = SetSession(ctx, sess)
			}

			next.ServeHTTP(w, r.WithContext(ctx))

			return
		}

		sess, err := m.sessions.Session(ctx, cookie.Value)
		if err != nil {
			if errs.KindIs(errs.NotExist, err) || errs.KindIs(errs.Unauthenticated, err) {
				next.ServeHTTP(w, r)
				return
			}

			m.log.Error().Err(err).Msg("retrieving session")
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error": "Unable to retrieve session."}`, http.StatusInternalServerError)

			return
		}

		if m.jwtSecret != "" {
			if _, err := ParseAccessToken(m.jwtSecret, sess.AccessToken, m.clock.Now()); err != nil {
				m.log.Debug().Err(err).Str("user", sess.Email).Msg("rejecting session access token")
				next.ServeHTTP(w, r)

				return
			}
		}

		next.ServeHTTP(w, r.WithContext(SetSession(ctx, sess)))
	})
}

// bearerSession builds a request scoped session from a verified access
// token. Without a secret there is nothing to verify against, so bearer
// tokens are ignored.
func (m *Middleware) bearerSession(r *http.Request) *service.Session {
	header := r.Header.Get("Authorization")
	if m.jwtSecret == "" || len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return nil
	}

	token := strings.TrimSpace(header[len("Bearer "):])

	claims, err := ParseAccessToken(m.jwtSecret, token, m.clock.Now())
	if err != nil {
		m.log.Debug().Err(err).Msg("rejecting bearer token")
		return nil
	}

	if claims.Subject == "" {
		m.log.Debug().Msg("rejecting bearer token without subject")
		return nil
	}

	return &service.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
		Expires:     claims.ExpiresAt.Time,
	}
}

// RequireUser redirects anonymous requests to the login page, remembering
// where they were going.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) == nil {
			http.Redirect(w, r, LoginRedirect(r.URL.RequestURI()), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAPIUser answers anonymous requests with 401.
func RequireAPIUser(log zerolog.Logger) MiddlewareHandler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUser(r.Context()) == nil {
				errs.HTTPErrorResponse(w, log, errs.E(errs.Unauthenticated, errs.Op("auth.RequireAPIUser"), errs.Str("no session")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnonymous sends signed in users away from the login, register and
// forgot-password pages, to where they came from.
func RequireAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) != nil {
			http.Redirect(w, r, SafeRedirect(r.URL.Query().Get("from")), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func LoginRedirect(from string) string {
	if from == "" || from == "/" {
		return LoginPath
	}

	return LoginPath + "?" + url.Values{"from": {from}}.Encode()
}

// SafeRedirect returns from when it is a local path, and "/" otherwise.
func SafeRedirect(from string) string {
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, `/\`) {
		return "/"
	}

	if strings.HasPrefix(from, "/auth/") {
		return "/"
	}

	return from
}
