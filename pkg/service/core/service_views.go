package core

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/auth"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/table"
)

// ViewCounter tracks how many list views are open.
type ViewCounter interface {
	ViewOpened()
	ViewClosed()
}

type nopViewCounter struct{}

func (nopViewCounter) ViewOpened() {}
func (nopViewCounter) ViewClosed() {}

type view struct {
	id       string
	owner    string
	ctrl     *table.Controller
	lastSeen time.Time
}

// Views holds the open list views of all users. Each view runs its own
// table controller and is evicted after sitting idle for the TTL.
type Views struct {
	fetcher table.Fetcher
	deleter table.Deleter
	policy  table.PolicyFunc
	clock   clock.WithDelayedExecution
	ttl     time.Duration
	opts    []table.Option
	counter ViewCounter
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	views map[string]*view
}

type ViewsOption func(*Views)

func WithViewsClock(clk clock.WithDelayedExecution) ViewsOption {
	return func(v *Views) {
		v.clock = clk
	}
}

func WithViewCounter(c ViewCounter) ViewsOption {
	return func(v *Views) {
		v.counter = c
	}
}

// WithTableOptions adds options to every controller the registry creates.
func WithTableOptions(opts ...table.Option) ViewsOption {
	return func(v *Views) {
		v.opts = append(v.opts, opts...)
	}
}

func NewViews(
	fetcher table.Fetcher,
	deleter table.Deleter,
	policy table.PolicyFunc,
	ttl time.Duration,
	log zerolog.Logger,
	opts ...ViewsOption,
) *Views {
	ctx, cancel := context.WithCancel(context.Background())

	v := &Views{
		fetcher: fetcher,
		deleter: deleter,
		policy:  policy,
		clock:   clock.RealClock{},
		ttl:     ttl,
		counter: nopViewCounter{},
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		views:   map[string]*view{},
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Open starts a list view of collection for owner and issues its first
// fetch. The view's fetches run as the session found in ctx, so the store
// applies the owner's row level security, but outlive the request.
func (v *Views) Open(ctx context.Context, owner, collection string) (string, table.Snapshot, error) {
	const op errs.Op = "Views.Open"

	if collection == "" {
		return "", table.Snapshot{}, errs.E(errs.InvalidRequest, op, errs.Parameter("collection"), errs.Str("collection is required"))
	}

	fetchCtx := v.ctx
	if sess := auth.GetSession(ctx); sess != nil {
		fetchCtx = auth.SetSession(fetchCtx, sess)
	}

	opts := append([]table.Option{
		table.WithClock(v.clock),
		table.WithContext(fetchCtx),
		table.WithDeleter(v.deleter),
		table.WithPolicy(v.policy),
		table.WithLogger(v.log),
	}, v.opts...)

	ctrl := table.New(collection, v.fetcher, opts...)

	id := shortuuid.New()

	v.mu.Lock()
	v.views[id] = &view{
		id:       id,
		owner:    owner,
		ctrl:     ctrl,
		lastSeen: v.clock.Now(),
	}
	v.mu.Unlock()

	v.counter.ViewOpened()
	v.log.Debug().Str("view", id).Str("collection", collection).Msg("view opened")

	ctrl.Refresh()

	return id, ctrl.Snapshot(), nil
}

// Get returns the controller of a view owned by owner and marks the view as
// used.
func (v *Views) Get(owner, id string) (*table.Controller, error) {
	const op errs.Op = "Views.Get"

	v.mu.Lock()
	defer v.mu.Unlock()

	vw, ok := v.views[id]
	if !ok || vw.owner != owner {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("view"), errs.Str("view not found"))
	}

	vw.lastSeen = v.clock.Now()

	return vw.ctrl, nil
}

func (v *Views) Close(owner, id string) error {
	const op errs.Op = "Views.Close"

	v.mu.Lock()
	vw, ok := v.views[id]
	if !ok || vw.owner != owner {
		v.mu.Unlock()
		return errs.E(errs.NotExist, op, errs.Parameter("view"), errs.Str("view not found"))
	}
	delete(v.views, id)
	v.mu.Unlock()

	v.closeView(vw)

	return nil
}

// CloseOwner closes every view of owner and returns how many were open.
func (v *Views) CloseOwner(owner string) int {
	return v.closeWhere(func(vw *view) bool {
		return vw.owner == owner
	})
}

// Evict closes the views that have not been used within the TTL.
func (v *Views) Evict() int {
	now := v.clock.Now()

	return v.closeWhere(func(vw *view) bool {
		return !vw.lastSeen.Add(v.ttl).After(now)
	})
}

func (v *Views) closeWhere(match func(*view) bool) int {
	v.mu.Lock()
	var closing []*view
	for id, vw := range v.views {
		if match(vw) {
			closing = append(closing, vw)
			delete(v.views, id)
		}
	}
	v.mu.Unlock()

	for _, vw := range closing {
		v.closeView(vw)
	}

	return len(closing)
}

func (v *Views) closeView(vw *view) {
	vw.ctrl.Close()
	v.counter.ViewClosed()
	v.log.Debug().Str("view", vw.id).Msg("view closed")
}

func (v *Views) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.views)
}

// HandleSessionEvent closes the views of a user whose session ended.
func (v *Views) HandleSessionEvent(event service.SessionEvent) {
	if event.Session == nil {
		return
	}

	switch event.Type {
	case service.SessionSignedOut, service.SessionExpired:
		if n := v.CloseOwner(event.Session.UserID); n > 0 {
			v.log.Info().Str("user_id", event.Session.UserID).Int("views", n).Msg("closed views of ended session")
		}
	case service.SessionSignedIn, service.PasswordUpdated:
	}
}

// Shutdown closes all views and stops their pending fetches from being
// applied.
func (v *Views) Shutdown() {
	v.closeWhere(func(*view) bool { return true })
	v.cancel()
}
