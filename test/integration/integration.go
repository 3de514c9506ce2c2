package integration

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/service"
)

type CleanupFn func()

type containers struct {
	t         *testing.T
	log       zerolog.Logger
	pool      *dockertest.Pool
	network   *dockertest.Network
	resources []*dockertest.Resource
}

// Cleanup may be deferred in a test function to ensure that all resources are purged.
func (c *containers) Cleanup() {
	for _, r := range c.resources {
		if err := c.pool.Purge(r); err != nil {
			c.log.Warn().Err(err).Msg("purging resources")
		}
	}

	err := c.network.Close()
	if err != nil {
		c.log.Warn().Err(err).Msg("closing network")
	}
}

type PostgresConfig struct {
	User     string
	Password string
	Database string

	// HostPort is populated after the container is started.
	HostPort string
}

func (c *PostgresConfig) ConnectionURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", c.User, c.Password, c.HostPort, c.Database)
}

func NewPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		User:     "cms-backend",
		Password: "supersecret",
		Database: "cms",
	}
}

func (c *containers) RunPostgres(cfg *PostgresConfig) *PostgresConfig {
	var db *sql.DB

	resource, err := c.pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			fmt.Sprintf("POSTGRES_PASSWORD=%s", cfg.Password),
			fmt.Sprintf("POSTGRES_USER=%s", cfg.User),
			fmt.Sprintf("POSTGRES_DB=%s", cfg.Database),
			"listen_addresses = '*'",
		},
		NetworkID: c.network.Network.ID,
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		c.t.Fatalf("starting postgres container: %s", err)
	}

	cfg.HostPort = resource.GetHostPort("5432/tcp")
	c.log.Info().Msgf("Postgres is configured with url: %s", cfg.ConnectionURL())

	c.pool.MaxWait = 120 * time.Second
	c.resources = append(c.resources, resource)

	if err = c.pool.Retry(func() error {
		db, err = sql.Open("postgres", cfg.ConnectionURL())
		if err != nil {
			return err
		}

		return db.Ping()
	}); err != nil {
		c.t.Fatalf("could not connect to postgres: %s", err)
	}

	return cfg
}

// NewContainers skips the test when running with -short, as every
// container needs Docker.
func NewContainers(t *testing.T, log zerolog.Logger) *containers {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("connecting to Docker: %s", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		t.Fatalf("pinging Docker: %s", err)
	}

	networkName := fmt.Sprintf("cms-integration-test-network-%d", rand.Intn(1000))

	network, err := pool.CreateNetwork(networkName)
	if err != nil {
		t.Fatalf("creating network: %s", err)
	}

	return &containers{
		t:         t,
		log:       log,
		pool:      pool,
		network:   network,
		resources: nil,
	}
}

// blogsTable mirrors the blogs collection of the console: plain text
// columns next to structured ones that the schema engine infers as json
// and array.
const blogsTable = `CREATE TABLE blogs (
	id            SERIAL PRIMARY KEY,
	title         TEXT NOT NULL,
	slug          TEXT UNIQUE,
	count         INTEGER,
	content       JSONB,
	synonyms_slug JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// ResetBlogs recreates the blogs table and inserts n numbered rows.
func ResetBlogs(ctx context.Context, t *testing.T, db *sql.DB, n int) {
	t.Helper()

	for _, stmt := range []string{`DROP TABLE IF EXISTS blogs`, blogsTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("preparing blogs table: %s", err)
		}
	}

	for i := 1; i <= n; i++ {
		_, err := db.ExecContext(ctx,
			`INSERT INTO blogs (title, slug, count, content, synonyms_slug) VALUES ($1, $2, $3, $4, $5)`,
			fmt.Sprintf("Blog %02d", i), fmt.Sprintf("blog-%02d", i), i, `{"body":"foo"}`, `[]`,
		)
		if err != nil {
			t.Fatalf("seeding blog %d: %s", i, err)
		}
	}
}

// AsUser signs every request in as the given session's user, standing in
// for the cookie and token lookup of the auth middleware.
func AsUser(sess *service.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.SetSession(r.Context(), sess)))
		})
	}
}

func EditorSession() *service.Session {
	return &service.Session{
		UserID:  "u1",
		Email:   "editor@example.com",
		Expires: time.Now().Add(time.Hour),
	}
}

func TestRouter(log zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		log.Error().Str("method", r.Method).Str("path", r.URL.Path).Msg("not found")
		w.WriteHeader(http.StatusNotFound)
	})

	return r
}

func encode(t *testing.T, v any) io.Reader {
	t.Helper()

	if v == nil {
		return nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling: %s", err)
	}

	return bytes.NewReader(b)
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("unmarshaling: %s", err)
	}
}

// Tester sends one request against the console API and checks the answer.
type Tester struct {
	t       *testing.T
	server  *httptest.Server
	headers http.Header

	response *http.Response
}

func NewTester(t *testing.T, s *httptest.Server) *Tester {
	return &Tester{
		t:       t,
		server:  s,
		headers: http.Header{},
	}
}

// WithBearer sends the access token the way API clients authenticate.
func (r *Tester) WithBearer(token string) *Tester {
	r.headers.Set("Authorization", "Bearer "+token)

	return r
}

func (r *Tester) Get(path string, params ...string) *Tester {
	return r.do(http.MethodGet, path, nil, params)
}

func (r *Tester) Post(input any, path string, params ...string) *Tester {
	return r.do(http.MethodPost, path, input, params)
}

func (r *Tester) Put(input any, path string, params ...string) *Tester {
	return r.do(http.MethodPut, path, input, params)
}

func (r *Tester) Delete(path string, params ...string) *Tester {
	return r.do(http.MethodDelete, path, nil, params)
}

// do sends the request. params are query parameters given as key, value
// pairs.
func (r *Tester) do(method, path string, input any, params []string) *Tester {
	r.t.Helper()

	if len(params)%2 != 0 {
		r.t.Fatalf("query parameters must come in pairs, got %d values", len(params))
	}

	query := url.Values{}
	for i := 0; i < len(params); i += 2 {
		query.Add(params[i], params[i+1])
	}

	target := r.server.URL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, target, encode(r.t, input))
	if err != nil {
		r.t.Fatalf("creating request: %s", err)
	}

	for k, v := range r.headers {
		req.Header[k] = v
	}

	if input != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	r.response, err = r.server.Client().Do(req)
	if err != nil {
		r.t.Fatalf("sending request: %s", err)
	}

	r.t.Cleanup(func() { _ = r.response.Body.Close() })

	return r
}

// Debug dumps the exchange, for use while writing a test.
func (r *Tester) Debug(out io.Writer) *Tester {
	r.t.Helper()

	for _, dump := range []func() ([]byte, error){
		func() ([]byte, error) { return httputil.DumpRequest(r.response.Request, false) },
		func() ([]byte, error) { return httputil.DumpResponse(r.response, true) },
	} {
		data, err := dump()
		if err != nil {
			r.t.Fatalf("dumping exchange: %s", err)
		}

		_, _ = out.Write(data)
	}

	return r
}

func (r *Tester) HasStatusCode(code int) *Tester {
	r.t.Helper()

	if r.response.StatusCode != code {
		r.t.Errorf("%s %s: expected status code %d, got %d",
			r.response.Request.Method, r.response.Request.URL.Path, code, r.response.StatusCode)
	}

	return r
}

func (r *Tester) Value(into any) {
	r.t.Helper()

	decode(r.t, r.response.Body, into)
}

func (r *Tester) Expect(expect, into any, opts ...cmp.Option) {
	r.t.Helper()

	decode(r.t, r.response.Body, into)

	if diff := cmp.Diff(expect, into, opts...); diff != "" {
		r.t.Errorf("unexpected response (-want +got):\n%s", diff)
	}
}
