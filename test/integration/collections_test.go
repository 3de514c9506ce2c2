package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/collections/sqlstore"
	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core"
	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/routes"
)

func consoleConfig() config.Console {
	deletable := true

	return config.Console{
		DefaultCollection: "blogs",
		DefaultPageSize:   10,
		DefaultSort:       config.Sort{Field: "id", Ascending: true},
		Collections: map[string]config.Collection{
			"blogs": {
				Deletable:    &deletable,
				SearchFields: []string{"title"},
				SlugFrom:     "title",
			},
		},
	}
}

func TestCollections(t *testing.T) {
	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	pgCfg := c.RunPostgres(NewPostgresConfig())

	for _, dialect := range []database.Dialect{database.Postgres, database.Pgx} {
		t.Run(string(dialect), func(t *testing.T) {
			ctx := context.Background()

			db, err := database.Open(ctx, dialect, pgCfg.ConnectionURL(), database.Options{MaxOpenConns: 5}, log)
			require.NoError(t, err)
			defer db.Close()

			ResetBlogs(ctx, t, db, 0)

			cfg := consoleConfig()
			svc := core.NewCollectionService(sqlstore.New(db, dialect, log), cfg.Policy, log)
			h := handlers.NewCollectionHandler(svc, handlers.ListDefaults{PageSize: 10, SortField: "id", SortAscending: true})

			r := TestRouter(log)
			routes.NewCollectionRoutes(routes.NewCollectionEndpoints(log, h), AsUser(EditorSession()))(r)

			server := httptest.NewServer(r)
			defer server.Close()

			created := service.Record{}

			t.Run("Create blog", func(t *testing.T) {
				NewTester(t, server).
					Post(service.Record{
						"title":         "Hello World",
						"count":         12,
						"content":       map[string]any{"body": "first"},
						"synonyms_slug": []any{"hi"},
					}, "/api/collections/blogs").
					HasStatusCode(http.StatusCreated).
					Value(&created)

				assert.Equal(t, "hello-world", created["slug"])
				assert.Equal(t, float64(12), created["count"])
				assert.Equal(t, map[string]any{"body": "first"}, created["content"])
			})

			t.Run("Duplicate slug conflicts", func(t *testing.T) {
				NewTester(t, server).
					Post(service.Record{"title": "Hello World"}, "/api/collections/blogs").
					HasStatusCode(http.StatusConflict)
			})

			id := created.ID()

			t.Run("List blogs", func(t *testing.T) {
				got := &service.ListResult{}

				NewTester(t, server).
					Get("/api/collections/blogs", "search", "hello").
					HasStatusCode(http.StatusOK).
					Value(got)

				require.Len(t, got.Rows, 1)
				assert.Equal(t, 1, got.Total)
				assert.Equal(t, 1, got.PageCount)
				assert.True(t, got.Deletable)
				assert.Equal(t, []string{"title", "slug", "count", "content", "synonyms_slug"}, got.Schema.Names())
			})

			t.Run("Update keeps json keys", func(t *testing.T) {
				NewTester(t, server).
					Put(service.Record{"title": "Hello again", "content": map[string]any{"other": "x"}}, "/api/collections/blogs/"+id).
					HasStatusCode(http.StatusBadRequest)

				updated := service.Record{}

				NewTester(t, server).
					Put(service.Record{"title": "Hello again", "content": map[string]any{"body": "second"}}, "/api/collections/blogs/"+id).
					HasStatusCode(http.StatusOK).
					Value(&updated)

				assert.Equal(t, "Hello again", updated["title"])
				assert.Equal(t, "hello-world", updated["slug"])
			})

			t.Run("Delete blog", func(t *testing.T) {
				NewTester(t, server).
					Delete("/api/collections/blogs/"+id).
					HasStatusCode(http.StatusNoContent)

				NewTester(t, server).
					Get("/api/collections/blogs/"+id).
					HasStatusCode(http.StatusNotFound)
			})
		})
	}
}

func TestCollectionPaging(t *testing.T) {
	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	pgCfg := c.RunPostgres(NewPostgresConfig())
	ctx := context.Background()

	db, err := database.Open(ctx, database.Pgx, pgCfg.ConnectionURL(), database.Options{MaxOpenConns: 5}, log)
	require.NoError(t, err)
	defer db.Close()

	ResetBlogs(ctx, t, db, 23)

	cfg := consoleConfig()
	svc := core.NewCollectionService(sqlstore.New(db, database.Pgx, log), cfg.Policy, log)
	h := handlers.NewCollectionHandler(svc, handlers.ListDefaults{PageSize: 10, SortField: "id", SortAscending: true})

	r := TestRouter(log)
	routes.NewCollectionRoutes(routes.NewCollectionEndpoints(log, h), AsUser(EditorSession()))(r)

	server := httptest.NewServer(r)
	defer server.Close()

	titles := func(res *service.ListResult) []string {
		out := make([]string, len(res.Rows))
		for i, row := range res.Rows {
			out[i], _ = row["title"].(string)
		}

		return out
	}

	t.Run("First page", func(t *testing.T) {
		got := &service.ListResult{}

		NewTester(t, server).
			Get("/api/collections/blogs", "page", "0", "size", "10").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, 23, got.Total)
		assert.Equal(t, 3, got.PageCount)
		require.Len(t, got.Rows, 10)
		assert.Equal(t, "Blog 01", titles(got)[0])
		assert.Equal(t, "Blog 10", titles(got)[9])
	})

	t.Run("Last page is short", func(t *testing.T) {
		got := &service.ListResult{}

		NewTester(t, server).
			Get("/api/collections/blogs", "page", "2", "size", "10").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, 23, got.Total)
		assert.Equal(t, []string{"Blog 21", "Blog 22", "Blog 23"}, titles(got))
	})

	t.Run("Sort descending", func(t *testing.T) {
		got := &service.ListResult{}

		NewTester(t, server).
			Get("/api/collections/blogs", "size", "5", "sort", "title", "asc", "false").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, []string{"Blog 23", "Blog 22", "Blog 21", "Blog 20", "Blog 19"}, titles(got))
	})

	t.Run("Search skips json columns", func(t *testing.T) {
		got := &service.ListResult{}

		// Every row holds "foo" inside its json content column only.
		NewTester(t, server).
			Get("/api/collections/blogs", "search", "foo").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, 0, got.Total)
		assert.Empty(t, got.Rows)
	})

	t.Run("Search is case insensitive", func(t *testing.T) {
		got := &service.ListResult{}

		NewTester(t, server).
			Get("/api/collections/blogs", "search", "BLOG 2").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, []string{"Blog 20", "Blog 21", "Blog 22", "Blog 23"}, titles(got))
	})
}

type noSessions struct{}

func (noSessions) Session(context.Context, string) (*service.Session, error) {
	return nil, nil
}

func TestCollectionsWithBearerToken(t *testing.T) {
	const secret = "integration-jwt-secret"

	log := zerolog.New(os.Stdout)

	c := NewContainers(t, log)
	defer c.Cleanup()

	pgCfg := c.RunPostgres(NewPostgresConfig())
	ctx := context.Background()

	db, err := database.Open(ctx, database.Pgx, pgCfg.ConnectionURL(), database.Options{MaxOpenConns: 5}, log)
	require.NoError(t, err)
	defer db.Close()

	ResetBlogs(ctx, t, db, 3)

	cfg := consoleConfig()
	svc := core.NewCollectionService(sqlstore.New(db, database.Pgx, log), cfg.Policy, log)
	h := handlers.NewCollectionHandler(svc, handlers.ListDefaults{PageSize: 10, SortField: "id", SortAscending: true})

	mw := auth.NewMiddleware(noSessions{}, "cms_session", secret, clock.RealClock{}, log)
	guard := func(next http.Handler) http.Handler {
		return mw.Handler(auth.RequireAPIUser(log)(next))
	}

	r := TestRouter(log)
	routes.NewCollectionRoutes(routes.NewCollectionEndpoints(log, h), guard)(r)

	server := httptest.NewServer(r)
	defer server.Close()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Email: "editor@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	t.Run("Anonymous is rejected", func(t *testing.T) {
		NewTester(t, server).
			Get("/api/collections/blogs").
			HasStatusCode(http.StatusUnauthorized)
	})

	t.Run("Bearer token lists blogs", func(t *testing.T) {
		got := &service.ListResult{}

		NewTester(t, server).
			WithBearer(token).
			Get("/api/collections/blogs").
			HasStatusCode(http.StatusOK).
			Value(got)

		assert.Equal(t, 3, got.Total)
	})

	t.Run("Forged token is rejected", func(t *testing.T) {
		NewTester(t, server).
			WithBearer(token+"x").
			Get("/api/collections/blogs").
			HasStatusCode(http.StatusUnauthorized)
	})
}
