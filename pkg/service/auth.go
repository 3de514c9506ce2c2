package service

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/oauth2"
)

type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Expiry   time.Time      `json:"expiry"`
}

// Credentials are what the identity provider hands back on sign in.
type Credentials struct {
	User  *User
	Token *oauth2.Token
}

// Session is a signed in console session, stored server side and referenced
// by an opaque cookie token.
type Session struct {
	Token        string    `json:"-"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Created      time.Time `json:"created"`
	Expires      time.Time `json:"expires"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.Expires.After(now)
}

func (s *Session) User() *User {
	return &User{
		ID:     s.UserID,
		Email:  s.Email,
		Expiry: s.Expires,
	}
}

// AuthAPI is the external identity provider.
type AuthAPI interface {
	SignIn(ctx context.Context, email, password string) (*Credentials, error)
	SignUp(ctx context.Context, email, password string, profile map[string]any) (*User, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPassword(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, password string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
}

type SessionStorage interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

type AuthService interface {
	Login(ctx context.Context, in LoginDto) (*Session, error)
	Register(ctx context.Context, in RegisterDto) (*User, error)
	Logout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, in ForgotPasswordDto) error
	UpdatePassword(ctx context.Context, token string, in UpdatePasswordDto) error
	Session(ctx context.Context, token string) (*Session, error)
}

// SessionEventType names a change of authentication state.
type SessionEventType string

const (
	SessionSignedIn  SessionEventType = "SIGNED_IN"
	SessionSignedOut SessionEventType = "SIGNED_OUT"
	SessionExpired   SessionEventType = "SESSION_EXPIRED"
	PasswordUpdated  SessionEventType = "USER_UPDATED"
)

type SessionEvent struct {
	Type    SessionEventType
	Session *Session
}

type LoginDto struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (d LoginDto) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Email, validation.Required, is.EmailFormat),
		validation.Field(&d.Password, validation.Required),
	)
}

type RegisterDto struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  map[string]any `json:"profile"`
}

func (d RegisterDto) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Email, validation.Required, is.EmailFormat),
		validation.Field(&d.Password, validation.Required, validation.Length(6, 72)),
	)
}

type ForgotPasswordDto struct {
	Email string `json:"email"`
}

func (d ForgotPasswordDto) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Email, validation.Required, is.EmailFormat),
	)
}

type UpdatePasswordDto struct {
	Password string `json:"password"`
}

func (d UpdatePasswordDto) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Password, validation.Required, validation.Length(6, 72)),
	)
}
