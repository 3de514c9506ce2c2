package requestlogger_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi"
	md "github.com/go-chi/chi/middleware"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alris/cms-backend/pkg/requestlogger"
)

const chromeOnWindows = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/59.0.3071.115 Safari/537.36"

type LogFormat struct {
	Level      string    `json:"level"`
	RequestID  string    `json:"request_id"`
	Time       time.Time `json:"time"`
	BytesIn    int       `json:"bytes_in"`
	BytesOut   int       `json:"bytes_out"`
	Latency    float64   `json:"latency_ms"`
	Request    string    `json:"request"`
	Route      string    `json:"route"`
	Collection string    `json:"collection"`
	Message    string    `json:"message"`
	Browser    string    `json:"browser"`
}

func newRouter(logger zerolog.Logger, filters ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(md.RequestID)
	r.Use(requestlogger.Middleware(logger, filters...))

	r.Get("/api/collections/{collection}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	r.Post("/api/collections/{collection}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{}"))
	})
	r.Get("/api/collections/{collection}/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.Get("/internal/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/internal/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func TestLoggerMiddleware(t *testing.T) {
	testCases := []struct {
		name    string
		method  string
		target  string
		body    []byte
		filters []string
		expect  *LogFormat
	}{
		{
			name:   "Should log a list request",
			method: http.MethodGet,
			target: "http://example.com/api/collections/blogs",
			expect: &LogFormat{
				Level:      "info",
				BytesOut:   2,
				Request:    "GET /api/collections/blogs (response_code: 200)",
				Route:      "/api/collections/{collection}",
				Collection: "blogs",
				Message:    "incoming_request",
				Browser:    "Chrome (Windows)",
			},
		},
		{
			name:   "Should count request body",
			method: http.MethodPost,
			target: "http://example.com/api/collections/blogs",
			body:   []byte(`{"title":"x"}`),
			expect: &LogFormat{
				Level:      "info",
				BytesIn:    13,
				BytesOut:   2,
				Request:    "POST /api/collections/blogs (response_code: 201)",
				Route:      "/api/collections/{collection}",
				Collection: "blogs",
				Message:    "incoming_request",
				Browser:    "Chrome (Windows)",
			},
		},
		{
			name:   "Should warn on client errors",
			method: http.MethodGet,
			target: "http://example.com/api/collections/author/42",
			expect: &LogFormat{
				Level:      "warn",
				BytesOut:   10,
				Request:    "GET /api/collections/author/42 (response_code: 404)",
				Route:      "/api/collections/{collection}/{id}",
				Collection: "author",
				Message:    "incoming_request",
				Browser:    "Chrome (Windows)",
			},
		},
		{
			name:   "Should error on server errors",
			method: http.MethodGet,
			target: "http://example.com/boom",
			expect: &LogFormat{
				Level:   "error",
				Request: "GET /boom (response_code: 500)",
				Route:   "/boom",
				Message: "incoming_request",
				Browser: "Chrome (Windows)",
			},
		},
		{
			name:    "Should skip exact filters",
			method:  http.MethodGet,
			target:  "http://example.com/internal/health",
			filters: []string{"/internal/health"},
		},
		{
			name:    "Should skip prefix filters",
			method:  http.MethodGet,
			target:  "http://example.com/internal/metrics",
			filters: []string{"/internal/*"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer

			req := httptest.NewRequest(tc.method, tc.target, bytes.NewReader(tc.body))
			req.Header.Set("User-Agent", chromeOnWindows)
			if tc.body != nil {
				req.Header.Set("Content-Length", strconv.Itoa(len(tc.body)))
			}

			newRouter(zerolog.New(&buf), tc.filters...).ServeHTTP(httptest.NewRecorder(), req)

			if tc.expect == nil {
				assert.Empty(t, buf.String())
				return
			}

			got := &LogFormat{}
			err := json.Unmarshal(buf.Bytes(), got)
			require.NoError(t, err)

			diff := cmp.Diff(tc.expect, got, cmpopts.IgnoreFields(LogFormat{}, "Time", "Latency", "RequestID"))
			assert.Empty(t, diff)
			assert.GreaterOrEqual(t, got.Latency, 0.0)
			assert.False(t, got.Time.IsZero())
			assert.NotEqual(t, "n/a", got.RequestID)
		})
	}
}

func TestLoggerMiddleware_UnknownBrowser(t *testing.T) {
	var buf bytes.Buffer

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/collections/blogs", nil)
	newRouter(zerolog.New(&buf)).ServeHTTP(httptest.NewRecorder(), req)

	got := &LogFormat{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), got))
	assert.Equal(t, "unknown", got.Browser)
}
