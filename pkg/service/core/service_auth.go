package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

var _ service.AuthService = &authService{}

// SessionPublisher receives every change of authentication state.
type SessionPublisher interface {
	Publish(event service.SessionEvent)
}

type authService struct {
	api           service.AuthAPI
	sessions      service.SessionStorage
	hub           SessionPublisher
	clock         clock.PassiveClock
	ttl           time.Duration
	resetRedirect string
	log           zerolog.Logger
}

func (s *authService) Login(ctx context.Context, in service.LoginDto) (*service.Session, error) {
	const op errs.Op = "authService.Login"

	if err := in.Validate(); err != nil {
		return nil, errs.E(errs.Validation, op, err)
	}

	creds, err := s.api.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		return nil, errs.E(op, errs.UserName(in.Email), err)
	}

	if creds.User == nil {
		return nil, errs.E(errs.Internal, op, errs.Str("identity provider returned no user"))
	}

	now := s.clock.Now()
	expires := now.Add(s.ttl)

	session := &service.Session{
		Token:   uuid.New().String(),
		UserID:  creds.User.ID,
		Email:   creds.User.Email,
		Created: now,
		Expires: expires,
	}

	if creds.Token != nil {
		session.AccessToken = creds.Token.AccessToken
		session.RefreshToken = creds.Token.RefreshToken

		// The access token is what the store sees, so the session ends with it.
		if expiry := creds.Token.Expiry; !expiry.IsZero() && expiry.Before(session.Expires) {
			session.Expires = expiry
		}
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, errs.E(op, errs.UserName(in.Email), err)
	}

	s.hub.Publish(service.SessionEvent{Type: service.SessionSignedIn, Session: session})
	s.log.Info().Str("user_id", session.UserID).Msg("signed in")

	return session, nil
}

func (s *authService) Register(ctx context.Context, in service.RegisterDto) (*service.User, error) {
	const op errs.Op = "authService.Register"

	if err := in.Validate(); err != nil {
		return nil, errs.E(errs.Validation, op, err)
	}

	user, err := s.api.SignUp(ctx, in.Email, in.Password, in.Profile)
	if err != nil {
		return nil, errs.E(op, errs.UserName(in.Email), err)
	}

	return user, nil
}

// Logout ends the session behind token. Logging out of a session that is
// already gone succeeds.
func (s *authService) Logout(ctx context.Context, token string) error {
	const op errs.Op = "authService.Logout"

	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if errs.KindIs(errs.NotExist, err) {
			return nil
		}

		return errs.E(op, err)
	}

	if session.AccessToken != "" {
		if err := s.api.SignOut(ctx, session.AccessToken); err != nil {
			s.log.Warn().Err(err).Str("user_id", session.UserID).Msg("revoking access token at the identity provider")
		}
	}

	if err := s.sessions.DeleteSession(ctx, token); err != nil {
		return errs.E(op, err)
	}

	s.hub.Publish(service.SessionEvent{Type: service.SessionSignedOut, Session: session})
	s.log.Info().Str("user_id", session.UserID).Msg("signed out")

	return nil
}

func (s *authService) ForgotPassword(ctx context.Context, in service.ForgotPasswordDto) error {
	const op errs.Op = "authService.ForgotPassword"

	if err := in.Validate(); err != nil {
		return errs.E(errs.Validation, op, err)
	}

	if err := s.api.ResetPassword(ctx, in.Email, s.resetRedirect); err != nil {
		return errs.E(op, errs.UserName(in.Email), err)
	}

	return nil
}

func (s *authService) UpdatePassword(ctx context.Context, token string, in service.UpdatePasswordDto) error {
	const op errs.Op = "authService.UpdatePassword"

	if err := in.Validate(); err != nil {
		return errs.E(errs.Validation, op, err)
	}

	session, err := s.Session(ctx, token)
	if err != nil {
		return errs.E(op, err)
	}

	if err := s.api.UpdatePassword(ctx, session.AccessToken, in.Password); err != nil {
		return errs.E(op, errs.UserName(session.Email), err)
	}

	s.hub.Publish(service.SessionEvent{Type: service.PasswordUpdated, Session: session})

	return nil
}

// Session returns the live session behind token. An expired session is
// removed and reported as unauthenticated.
func (s *authService) Session(ctx context.Context, token string) (*service.Session, error) {
	const op errs.Op = "authService.Session"

	if token == "" {
		return nil, errs.E(errs.Unauthenticated, op, errs.Str("no session"))
	}

	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if errs.KindIs(errs.NotExist, err) {
			return nil, errs.E(errs.Unauthenticated, op, err)
		}

		return nil, errs.E(op, err)
	}

	if session.Expired(s.clock.Now()) {
		if err := s.sessions.DeleteSession(ctx, token); err != nil {
			s.log.Warn().Err(err).Msg("deleting expired session")
		}

		s.hub.Publish(service.SessionEvent{Type: service.SessionExpired, Session: session})

		return nil, errs.E(errs.Unauthenticated, op, errs.UserName(session.Email), errs.Str("session expired"))
	}

	return session, nil
}

type AuthOption func(*authService)

func WithAuthClock(clk clock.PassiveClock) AuthOption {
	return func(s *authService) {
		s.clock = clk
	}
}

func NewAuthService(
	api service.AuthAPI,
	sessions service.SessionStorage,
	hub SessionPublisher,
	ttl time.Duration,
	resetRedirect string,
	log zerolog.Logger,
	opts ...AuthOption,
) *authService {
	s := &authService{
		api:           api,
		sessions:      sessions,
		hub:           hub,
		clock:         clock.RealClock{},
		ttl:           ttl,
		resetRedirect: resetRedirect,
		log:           log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
