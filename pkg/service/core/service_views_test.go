package core_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/collections/postgrest"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core"
	"github.com/alris/cms-backend/pkg/table"
)

type staticFetcher struct {
	total int
}

func (f staticFetcher) Fetch(_ context.Context, _ string, filter service.Filter) (*service.Page, error) {
	page := &service.Page{Keys: []string{"id", "title"}, Total: f.total}
	for i := filter.Offset; i < min(filter.Offset+filter.Limit, f.total); i++ {
		page.Rows = append(page.Rows, service.Record{"id": float64(i + 1), "title": fmt.Sprintf("post %d", i+1)})
	}

	return page, nil
}

type countingDeleter struct {
	mu  sync.Mutex
	ids []string
}

func (d *countingDeleter) Delete(_ context.Context, _, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ids = append(d.ids, id)

	return nil
}

type viewCount struct {
	mu   sync.Mutex
	open int
}

func (c *viewCount) ViewOpened() { c.mu.Lock(); c.open++; c.mu.Unlock() }
func (c *viewCount) ViewClosed() { c.mu.Lock(); c.open--; c.mu.Unlock() }

func (c *viewCount) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.open
}

func newViews(clk *clocktesting.FakeClock, counter *viewCount) *core.Views {
	return core.NewViews(
		staticFetcher{total: 23},
		&countingDeleter{},
		func(string) service.CollectionPolicy { return service.CollectionPolicy{Deletable: true} },
		10*time.Minute,
		zerolog.Nop(),
		core.WithViewsClock(clk),
		core.WithViewCounter(counter),
		core.WithTableOptions(table.WithPageSize(10)),
	)
}

func settled(t *testing.T, ctrl *table.Controller) table.Snapshot {
	t.Helper()

	var snap table.Snapshot
	require.Eventually(t, func() bool {
		snap = ctrl.Snapshot()
		return snap.Status == table.StatusIdle && !snap.Loading
	}, 2*time.Second, time.Millisecond)

	return snap
}

func TestViews_OpenAndPage(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	counter := &viewCount{}
	views := newViews(clk, counter)
	defer views.Shutdown()

	id, _, err := views.Open(context.Background(), "u-1", "blogs")
	require.NoError(t, err)
	assert.Equal(t, 1, counter.get())

	ctrl, err := views.Get("u-1", id)
	require.NoError(t, err)

	snap := settled(t, ctrl)
	assert.Equal(t, 23, snap.Total)
	assert.Equal(t, 3, snap.PageCount)
	assert.Len(t, snap.Rows, 10)

	require.NoError(t, ctrl.SetPage(2))
	snap = settled(t, ctrl)
	assert.Len(t, snap.Rows, 3)
	assert.Equal(t, 21, snap.FirstRow())

	_, err = views.Get("u-2", id)
	assert.True(t, errs.KindIs(errs.NotExist, err))

	_, _, err = views.Open(context.Background(), "u-1", "")
	assert.True(t, errs.KindIs(errs.InvalidRequest, err))
}

func TestViews_EvictIdle(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	counter := &viewCount{}
	views := newViews(clk, counter)
	defer views.Shutdown()

	idle, _, err := views.Open(context.Background(), "u-1", "blogs")
	require.NoError(t, err)

	clk.Step(6 * time.Minute)

	used, _, err := views.Open(context.Background(), "u-1", "author")
	require.NoError(t, err)

	clk.Step(5 * time.Minute)
	_, err = views.Get("u-1", used)
	require.NoError(t, err)

	assert.Equal(t, 1, views.Evict())
	assert.Equal(t, 1, views.Len())
	assert.Equal(t, 1, counter.get())

	_, err = views.Get("u-1", idle)
	assert.True(t, errs.KindIs(errs.NotExist, err))
}

func TestViews_ClosedOnSignOut(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	counter := &viewCount{}
	views := newViews(clk, counter)
	defer views.Shutdown()

	hub := auth.NewHub()
	unsubscribe := hub.Subscribe(views.HandleSessionEvent)
	defer unsubscribe()

	_, _, err := views.Open(context.Background(), "u-1", "blogs")
	require.NoError(t, err)
	_, _, err = views.Open(context.Background(), "u-1", "author")
	require.NoError(t, err)
	other, _, err := views.Open(context.Background(), "u-2", "blogs")
	require.NoError(t, err)

	hub.Publish(service.SessionEvent{Type: service.SessionSignedIn, Session: &service.Session{UserID: "u-1"}})
	assert.Equal(t, 3, views.Len())

	hub.Publish(service.SessionEvent{Type: service.SessionSignedOut, Session: &service.Session{UserID: "u-1"}})
	assert.Equal(t, 1, views.Len())
	assert.Equal(t, 1, counter.get())

	_, err = views.Get("u-2", other)
	assert.NoError(t, err)

	require.NoError(t, views.Close("u-2", other))
	assert.True(t, errs.KindIs(errs.NotExist, views.Close("u-2", other)))
	assert.Equal(t, 0, counter.get())
}

func TestViews_FetchAsOwner(t *testing.T) {
	var (
		mu      sync.Mutex
		bearers []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		bearers = append(bearers, r.Method+" "+r.Header.Get("Authorization"))
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Range", "0-0/1")
		}
		_, _ = w.Write([]byte(`[{"id":1,"title":"first"}]`))
	}))
	defer srv.Close()

	store := postgrest.New(srv.URL, "anon-key", srv.Client(), postgrest.WithTokenFunc(auth.AccessToken))
	policy := func(string) service.CollectionPolicy { return service.CollectionPolicy{Deletable: true} }
	svc := core.NewCollectionService(store, policy, zerolog.Nop())

	views := core.NewViews(svc, svc, policy, 10*time.Minute, zerolog.Nop(),
		core.WithViewsClock(clocktesting.NewFakeClock(time.Now())),
	)
	defer views.Shutdown()

	ctx := auth.SetSession(context.Background(), &service.Session{
		UserID:      "u-1",
		Email:       "editor@example.com",
		AccessToken: "user-jwt",
		Expires:     time.Now().Add(time.Hour),
	})

	id, _, err := views.Open(ctx, "u-1", "blogs")
	require.NoError(t, err)

	ctrl, err := views.Get("u-1", id)
	require.NoError(t, err)
	settled(t, ctrl)

	require.NoError(t, ctrl.RequestDelete("1"))
	require.NoError(t, ctrl.ConfirmDelete(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bearers) >= 3
	}, 2*time.Second, time.Millisecond)
	settled(t, ctrl)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "GET Bearer user-jwt", bearers[0])
	assert.Equal(t, "DELETE Bearer user-jwt", bearers[1])
	for _, b := range bearers[2:] {
		assert.Equal(t, "GET Bearer user-jwt", b)
	}
}
