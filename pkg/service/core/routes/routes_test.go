package routes_test

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/collections/sqlstore"
	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core"
	"github.com/alris/cms-backend/pkg/service/core/console"
	"github.com/alris/cms-backend/pkg/service/core/handlers"
	"github.com/alris/cms-backend/pkg/service/core/routes"
	"github.com/alris/cms-backend/pkg/table"
)

const (
	sessionCookie = "cms_session"
	flashCookie   = "cms_flash"
	sessionToken  = "tok"
)

var now = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	loggedOut []string
}

var _ service.AuthService = &fakeAuth{}

func testSession() *service.Session {
	return &service.Session{
		Token:       sessionToken,
		UserID:      "u1",
		Email:       "editor@example.com",
		AccessToken: "access",
		Created:     now,
		Expires:     now.Add(time.Hour),
	}
}

func (f *fakeAuth) Login(_ context.Context, in service.LoginDto) (*service.Session, error) {
	if in.Password != "secret" {
		return nil, errs.E(errs.InvalidRequest, errs.Op("fakeAuth.Login"), errs.Str("Invalid login credentials"))
	}

	return testSession(), nil
}

func (f *fakeAuth) Register(_ context.Context, in service.RegisterDto) (*service.User, error) {
	return &service.User{ID: "u2", Email: in.Email}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func (f *fakeAuth) ForgotPassword(context.Context, service.ForgotPasswordDto) error {
	return nil
}

func (f *fakeAuth) UpdatePassword(context.Context, string, service.UpdatePasswordDto) error {
	return nil
}

func (f *fakeAuth) Session(_ context.Context, token string) (*service.Session, error) {
	if token != sessionToken {
		return nil, errs.E(errs.NotExist, errs.Op("fakeAuth.Session"), errs.Str("no such session"))
	}

	return testSession(), nil
}

type testServer struct {
	router chi.Router
	auth   *fakeAuth
	db     *sql.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx := context.Background()
	log := zerolog.Nop()

	db, err := database.Open(ctx, database.SQLite, ":memory:", database.Options{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seedBlogs(t, db, 12)

	policy := func(collection string) service.CollectionPolicy {
		return service.CollectionPolicy{Deletable: collection == "blogs"}
	}

	collections := core.NewCollectionService(sqlstore.New(db, database.SQLite, log), policy, log)
	fa := &fakeAuth{}

	cookies := auth.NewCookies(config.Cookies{
		Session: config.CookieSettings{Name: sessionCookie},
		Flash:   config.CookieSettings{Name: flashCookie},
	})

	cfg := config.Console{
		DefaultCollection: "blogs",
		DefaultPageSize:   10,
		PageSizeOptions:   []int{5, 10, 25},
		DefaultSort:       config.Sort{Field: "id", Ascending: true},
	}

	c, err := console.New(collections, fa, cookies, cfg, log)
	require.NoError(t, err)

	defaults := handlers.ListDefaults{PageSize: 10, SortField: "id", SortAscending: true}
	mw := auth.NewMiddleware(fa, sessionCookie, "", clocktesting.NewFakePassiveClock(now), log)

	views := core.NewViews(collections, collections, policy, time.Hour, log)
	t.Cleanup(views.Shutdown)

	router := chi.NewRouter()
	router.Use(mw.Handler)

	routes.Add(router, nil,
		routes.NewCollectionRoutes(routes.NewCollectionEndpoints(log, handlers.NewCollectionHandler(collections, defaults)), auth.RequireAPIUser(log)),
		routes.NewViewRoutes(routes.NewViewEndpoints(log, handlers.NewViewHandler(views)), auth.RequireAPIUser(log)),
		routes.NewMetricsRoutes(routes.NewMetricsEndpoints(prometheus.NewRegistry(), db)),
		routes.NewConsoleRoutes(routes.NewConsoleEndpoints(c), auth.RequireUser, auth.RequireAnonymous),
	)

	return &testServer{router: router, auth: fa, db: db}
}

func seedBlogs(t *testing.T, db *sql.DB, n int) {
	t.Helper()

	_, err := db.Exec(`CREATE TABLE blogs (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		count INTEGER
	)`)
	require.NoError(t, err)

	for i := 1; i <= n; i++ {
		_, err := db.Exec(`INSERT INTO blogs (title, count) VALUES (?, ?)`, fmt.Sprintf("post %d", i), i)
		require.NoError(t, err)
	}
}

func (s *testServer) do(t *testing.T, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	return rec
}

func (s *testServer) doJSON(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(signedIn())

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	return rec
}

func signedIn() *http.Cookie {
	return &http.Cookie{Name: sessionCookie, Value: sessionToken}
}

func document(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)

	return doc
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func TestConsole_Redirects(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name     string
		target   string
		cookies  []*http.Cookie
		location string
	}{
		{name: "anonymous list goes to login", target: "/blogs", location: "/auth/login?from=%2Fblogs"},
		{name: "anonymous home goes to login", target: "/", location: "/auth/login"},
		{name: "home opens default collection", target: "/", cookies: []*http.Cookie{signedIn()}, location: "/blogs"},
		{name: "signed in user skips login", target: "/auth/login?from=/blogs", cookies: []*http.Cookie{signedIn()}, location: "/blogs"},
		{name: "unknown session is anonymous", target: "/blogs", cookies: []*http.Cookie{{Name: sessionCookie, Value: "stale"}}, location: "/auth/login?from=%2Fblogs"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tc.target, nil, tc.cookies...)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tc.location, rec.Header().Get("Location"))
		})
	}
}

func TestConsole_ListPage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/blogs?size=5&page=1", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)

	doc := document(t, rec)

	assert.Equal(t, "Blogs List", doc.Find("h1").Text())
	assert.Equal(t, "editor@example.com", doc.Find("nav .user").Text())

	var headers []string
	doc.Find("table.records thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(th.Text()))
	})
	assert.Equal(t, []string{"Sr No.", "Title", "Count", "Actions"}, headers)

	rows := doc.Find("table.records tbody tr")
	require.Equal(t, 5, rows.Length())

	first := rows.First().Find("td")
	assert.Equal(t, "6", first.Eq(0).Text())
	assert.Equal(t, "post 6", first.Eq(1).Text())
	assert.Equal(t, "6", first.Eq(2).Text())

	id, _ := rows.First().Attr("data-id")
	assert.Equal(t, "6", id)

	assert.Equal(t, "Page 2 of 3", doc.Find("footer .page").Text())
	assert.Equal(t, "12 records", doc.Find("footer .total").Text())

	prev, ok := doc.Find(`a[rel="prev"]`).Attr("href")
	require.True(t, ok)
	assert.Contains(t, prev, "page=0")

	next, ok := doc.Find(`a[rel="next"]`).Attr("href")
	require.True(t, ok)
	assert.Contains(t, next, "page=2")

	assert.Equal(t, 5, doc.Find(`table.records a[href^="/blogs/delete/"]`).Length())
}

func TestConsole_ListErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/blogs?page=abc", nil, signedIn())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	doc := document(t, rec)
	assert.Equal(t, "page must be a number", doc.Find(".notice-error").Text())
}

func TestConsole_CreateShowsFlash(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/blogs/add", url.Values{"title": {"New post"}, "count": {"3"}}, signedIn())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/blogs", rec.Header().Get("Location"))

	flash := responseCookie(rec, flashCookie)
	require.NotNil(t, flash)

	rec = s.do(t, http.MethodGet, "/blogs?search=New", nil, signedIn(), flash)
	require.Equal(t, http.StatusOK, rec.Code)

	cleared := responseCookie(rec, flashCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	doc := document(t, rec)
	assert.Equal(t, "Record created successfully.", doc.Find(".notice-success").Text())

	rows := doc.Find("table.records tbody tr")
	require.Equal(t, 1, rows.Length())
	assert.Equal(t, "New post", rows.Find("td").Eq(1).Text())
}

func TestConsole_RecordForms(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/blogs/edit/2", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)

	doc := document(t, rec)
	assert.Equal(t, "Edit Blogs", doc.Find("h1").Text())

	action, _ := doc.Find("form.record").Attr("action")
	assert.Equal(t, "/blogs/edit/2", action)

	title, _ := doc.Find(`input[name="title"]`).Attr("value")
	assert.Equal(t, "post 2", title)

	rec = s.do(t, http.MethodPost, "/blogs/edit/2", url.Values{"title": {"renamed"}, "count": {"9"}}, signedIn())
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(t, http.MethodGet, "/blogs/view/2", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)

	doc = document(t, rec)
	title, _ = doc.Find(`input[name="title"]`).Attr("value")
	assert.Equal(t, "renamed", title)
	_, readonly := doc.Find(`input[name="title"]`).Attr("readonly")
	assert.True(t, readonly)
	assert.Equal(t, 0, doc.Find(`form.record button[type="submit"]`).Length())

	rec = s.do(t, http.MethodGet, "/blogs/view/999", nil, signedIn())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsole_EditRevertsKeyChanges(t *testing.T) {
	s := newTestServer(t)

	_, err := s.db.Exec(`CREATE TABLE pages (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT, content TEXT)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO pages (title, content) VALUES ('About', '{"body":"hello","lead":"hi"}')`)
	require.NoError(t, err)

	content := func(doc *goquery.Document) map[string]any {
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(doc.Find(`textarea[name="content"]`).Text()), &v))
		return v
	}

	rec := s.do(t, http.MethodPost, "/pages/edit/1", url.Values{
		"title":   {"About us"},
		"content": {`{"body":"hello","extra":"x"}`},
	}, signedIn())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	doc := document(t, rec)
	assert.Equal(t, map[string]any{"body": "hello", "lead": "hi"}, content(doc))
	locked, _ := doc.Find(`textarea[name="content"]`).Attr("data-key-locked")
	assert.Equal(t, "true", locked)
	assert.Equal(t, "You cannot add or remove keys in this field", doc.Find(".field-structured .field-error").Text())

	title, _ := doc.Find(`input[name="title"]`).Attr("value")
	assert.Equal(t, "About us", title)

	rec = s.do(t, http.MethodPost, "/pages/edit/1", url.Values{
		"title":   {"About us"},
		"content": {`{"body":`},
	}, signedIn())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"body": "hello", "lead": "hi"}, content(document(t, rec)))

	rec = s.do(t, http.MethodGet, "/pages/edit/1", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)
	doc = document(t, rec)
	title, _ = doc.Find(`input[name="title"]`).Attr("value")
	assert.Equal(t, "About", title)

	rec = s.do(t, http.MethodPost, "/pages/edit/1", url.Values{
		"title":   {"About us"},
		"content": {`{"body":"welcome","lead":"hi"}`},
	}, signedIn())
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(t, http.MethodGet, "/pages/view/1", nil, signedIn())
	assert.Equal(t, map[string]any{"body": "welcome", "lead": "hi"}, content(document(t, rec)))
}

func TestConsole_Delete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/blogs/delete/3", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/blogs/delete/3", nil, signedIn())
	require.Equal(t, http.StatusSeeOther, rec.Code)

	flash := responseCookie(rec, flashCookie)
	require.NotNil(t, flash)

	rec = s.do(t, http.MethodGet, "/blogs", nil, signedIn(), flash)
	doc := document(t, rec)

	assert.Equal(t, "Record deleted successfully.", doc.Find(".notice-success").Text())
	assert.Equal(t, "11 records", doc.Find("footer .total").Text())
	assert.Equal(t, 0, doc.Find(`tr[data-id="3"]`).Length())
}

func TestConsole_Login(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/auth/login", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", url.Values{"email": {"editor@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid login credentials", document(t, rec).Find(".notice-error").Text())

	rec = s.do(t, http.MethodPost, "/auth/login", url.Values{
		"email":    {"editor@example.com"},
		"password": {"secret"},
		"from":     {"/blogs?page=1"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/blogs?page=1", rec.Header().Get("Location"))

	sess := responseCookie(rec, sessionCookie)
	require.NotNil(t, sess)
	assert.Equal(t, sessionToken, sess.Value)
}

func TestConsole_Logout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/auth/logout", nil, signedIn())
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, auth.LoginPath, rec.Header().Get("Location"))
	assert.Equal(t, []string{sessionToken}, s.auth.loggedOut)

	cleared := responseCookie(rec, sessionCookie)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestConsole_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/no/such/page", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Page Not Found", document(t, rec).Find("h1").Text())
}

func TestCollectionAPI(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/collections/blogs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/collections/blogs?size=5", nil, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":12`)
	assert.Contains(t, rec.Body.String(), `"pageCount":3`)

	rec = s.do(t, http.MethodGet, "/api/collections/blogs/999", nil, signedIn())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewAPI(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/api/views", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/api/views", `{"collection":"blogs"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var opened handlers.ViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	require.NotEmpty(t, opened.ID)
	assert.Equal(t, "blogs", opened.Collection)

	target := "/api/views/" + opened.ID

	var got handlers.ViewResponse
	require.Eventually(t, func() bool {
		rec := s.doJSON(t, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			return false
		}

		got = handlers.ViewResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}

		return got.Status == table.StatusIdle && !got.Loading
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 12, got.Total)
	assert.Equal(t, 2, got.PageCount)
	assert.Len(t, got.Rows, 10)
	assert.True(t, got.Deletable)

	rec = s.doJSON(t, http.MethodPost, target+"/page", `{"page":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := s.doJSON(t, http.MethodGet, target, "")
		got = handlers.ViewResponse{}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}

		return got.Status == table.StatusIdle && got.Query.PageIndex == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Len(t, got.Rows, 2)

	rec = s.doJSON(t, http.MethodPost, target+"/page", `{"page":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(t, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.doJSON(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/internal/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPrint(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, routes.Print(s.router, &buf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Method"))
	assert.Contains(t, out, "/api/collections/{collection}/{id}")
	assert.Contains(t, out, "/auth/login")
	assert.Contains(t, out, "/{collection}/edit/{id}")
	assert.Contains(t, out, "/internal/metrics")
}
