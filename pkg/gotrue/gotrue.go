// Package gotrue is a client for the public HTTP API of a hosted GoTrue
// identity service, e.g. https://<project>.supabase.co/auth/v1.
package gotrue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

const APIKeyHeader = "apikey"

var _ service.AuthAPI = &Client{}

type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	clock   clock.PassiveClock
}

type Option func(*Client)

func WithClock(c clock.PassiveClock) Option {
	return func(client *Client) {
		client.clock = c
	}
}

func New(baseURL, apiKey string, client *http.Client, opts ...Option) *Client {
	c := &Client{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		clock:   clock.RealClock{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type user struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *user) toService() *service.User {
	return &service.User{
		ID:       u.ID,
		Email:    u.Email,
		Metadata: u.UserMetadata,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         user   `json:"user"`
}

// APIError is the error document GoTrue answers with. Different versions
// use different field names for the same thing.
type APIError struct {
	Status           int    `json:"-"`
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Err              string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// Error is the provider's message alone; it is shown to users as is.
func (e *APIError) Error() string {
	return e.Text()
}

// Text is the most specific human readable message in the document.
func (e *APIError) Text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Err} {
		if s != "" {
			return s
		}
	}

	return http.StatusText(e.Status)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*service.Credentials, error) {
	const op errs.Op = "gotrue.SignIn"

	var res tokenResponse

	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", map[string]string{
		"email":    email,
		"password": password,
	}, &res)
	if err != nil {
		return nil, errs.E(op, err)
	}

	u := res.User.toService()
	expiry := c.clock.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	u.Expiry = expiry

	return &service.Credentials{
		User: u,
		Token: &oauth2.Token{
			AccessToken:  res.AccessToken,
			TokenType:    res.TokenType,
			RefreshToken: res.RefreshToken,
			Expiry:       expiry,
		},
	}, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, profile map[string]any) (*service.User, error) {
	const op errs.Op = "gotrue.SignUp"

	// With email confirmation on the answer is the user; without it, a
	// session carrying the user.
	var res struct {
		user
		User *user `json:"user"`
	}

	err := c.do(ctx, http.MethodPost, "/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     profile,
	}, &res)
	if err != nil {
		return nil, errs.E(op, err)
	}

	if res.User != nil {
		return res.User.toService(), nil
	}

	return res.user.toService(), nil
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	const op errs.Op = "gotrue.SignOut"

	if err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil); err != nil {
		return errs.E(op, err)
	}

	return nil
}

func (c *Client) ResetPassword(ctx context.Context, email, redirectTo string) error {
	const op errs.Op = "gotrue.ResetPassword"

	path := "/recover"
	if redirectTo != "" {
		path += "?" + url.Values{"redirect_to": {redirectTo}}.Encode()
	}

	if err := c.do(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil); err != nil {
		return errs.E(op, err)
	}

	return nil
}

func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) error {
	const op errs.Op = "gotrue.UpdatePassword"

	if err := c.do(ctx, http.MethodPut, "/user", accessToken, map[string]string{"password": password}, nil); err != nil {
		return errs.E(op, err)
	}

	return nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*service.User, error) {
	const op errs.Op = "gotrue.GetUser"

	var u user
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, errs.E(op, err)
	}

	return u.toService(), nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errs.E(errs.Internal, fmt.Errorf("encoding request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.E(errs.Internal, fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errs.E(errs.IO, fmt.Errorf("sending request: %w", err))
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errs.E(errs.IO, fmt.Errorf("reading response: %w", err))
	}

	if res.StatusCode >= http.StatusBadRequest {
		return classify(res.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errs.E(errs.IO, fmt.Errorf("decoding response: %w", err))
	}

	return nil
}

func classify(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	switch {
	case status == http.StatusUnauthorized || apiErr.Err == "invalid_grant":
		return errs.E(errs.Unauthenticated, apiErr)
	case status == http.StatusForbidden:
		return errs.E(errs.Unauthorized, apiErr)
	case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(apiErr.Text()), "already"):
		return errs.E(errs.Exist, apiErr)
	case status < http.StatusInternalServerError:
		return errs.E(errs.InvalidRequest, apiErr)
	default:
		return errs.E(errs.IO, apiErr)
	}
}
