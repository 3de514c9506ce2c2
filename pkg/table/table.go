// Package table holds the state machine behind one open list view of a
// collection: the query state, the inferred schema and the current page.
//
// Every state change bumps a generation counter and starts one fetch. A
// fetch result is applied only when its generation is still the latest one,
// so a slow response for an old query never overwrites a newer page.
package table

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusFetchPending Status = "fetch_pending"
	StatusError        Status = "error"
)

const (
	DefaultPageSize = 10
	DefaultDebounce = 500 * time.Millisecond
)

// PageSizeOptions are the page sizes offered in the list footer.
var PageSizeOptions = []int{5, 10, 20, 30, 40, 50}

type Fetcher interface {
	Fetch(ctx context.Context, collection string, filter service.Filter) (*service.Page, error)
}

type Deleter interface {
	Delete(ctx context.Context, collection, id string) error
}

// Observer is told about every fetch the controller resolves.
type Observer interface {
	Fetched(collection string, d time.Duration, err error)
	Superseded(collection string)
}

type nopObserver struct{}

func (nopObserver) Fetched(string, time.Duration, error) {}
func (nopObserver) Superseded(string)                    {}

// PolicyFunc returns the console configuration of a collection.
type PolicyFunc func(collection string) service.CollectionPolicy

type Sort struct {
	Field     string
	Ascending bool
}

type Option func(*Controller)

func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithDefaultSort(field string, ascending bool) Option {
	return func(c *Controller) {
		c.defaultSort = Sort{Field: field, Ascending: ascending}
	}
}

func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		c.debounce = d
	}
}

func WithClock(clk clock.WithDelayedExecution) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

func WithDeleter(d Deleter) Option {
	return func(c *Controller) {
		c.deleter = d
	}
}

func WithPolicy(fn PolicyFunc) Option {
	return func(c *Controller) {
		c.policy = fn
	}
}

// WithStaticSchema fixes the columns of the initial collection instead of
// inferring them from the first page.
func WithStaticSchema(s service.Schema) Option {
	return func(c *Controller) {
		c.static = s
	}
}

// WithContext sets the context fetches run under.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.ctx = ctx
	}
}

// OnSettled registers a callback that receives a snapshot each time a fetch
// result is applied.
func OnSettled(fn func(Snapshot)) Option {
	return func(c *Controller) {
		c.onSettled = fn
	}
}

type Controller struct {
	fetcher     Fetcher
	deleter     Deleter
	clock       clock.WithDelayedExecution
	log         zerolog.Logger
	observer    Observer
	policy      PolicyFunc
	onSettled   func(Snapshot)
	ctx         context.Context
	pageSize    int
	defaultSort Sort
	debounce    time.Duration
	static      service.Schema

	mu            sync.Mutex
	collection    string
	query         service.QueryState
	schema        service.Schema
	rows          []service.Record
	total         int
	status        Status
	loading       bool
	lastErr       error
	pendingDelete string
	generation    uint64
	searchTimer   clock.Timer
	searchSeq     uint64
	pendingSearch *string
	closed        bool
}

// New creates the controller of a list view. No fetch is issued until the
// first call to Refresh or another state change.
func New(collection string, fetcher Fetcher, opts ...Option) *Controller {
	c := &Controller{
		fetcher:     fetcher,
		clock:       clock.RealClock{},
		log:         zerolog.Nop(),
		observer:    nopObserver{},
		policy:      func(string) service.CollectionPolicy { return service.CollectionPolicy{} },
		ctx:         context.Background(),
		pageSize:    DefaultPageSize,
		defaultSort: Sort{Field: "id", Ascending: false},
		debounce:    DefaultDebounce,
		status:      StatusIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.resetLocked(collection)
	if !c.static.Empty() {
		c.schema = c.static
	}

	return c
}

var ErrNotSortable = errors.New("column cannot be sorted")

func (c *Controller) resetLocked(collection string) {
	c.collection = collection
	c.query = service.QueryState{
		PageIndex:     0,
		PageSize:      c.pageSize,
		SortField:     c.defaultSort.Field,
		SortAscending: c.defaultSort.Ascending,
	}
	c.schema = c.policy(collection).StaticSchema
	c.rows = nil
	c.total = 0
	c.lastErr = nil
	c.pendingDelete = ""
	c.cancelSearchLocked()
}

// Refresh refetches the current page.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.scheduleLocked(true)
}

// SetCollection switches the view to another collection, dropping the query
// state and the schema of the previous one.
func (c *Controller) SetCollection(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.resetLocked(collection)
	c.scheduleLocked(true)
}

func (c *Controller) SetPage(index int) error {
	const op errs.Op = "table.SetPage"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if index < 0 {
		return errs.E(errs.InvalidRequest, op, errs.Parameter("page"), errs.Str("page must not be negative"))
	}

	if c.total > 0 && index >= service.PageCount(c.total, c.query.PageSize) {
		return errs.E(errs.InvalidRequest, op, errs.Parameter("page"), errs.Str("page is past the last page"))
	}

	c.query.PageIndex = index
	c.scheduleLocked(true)

	return nil
}

// SetPageSize changes the page size and goes back to the first page.
func (c *Controller) SetPageSize(n int) error {
	const op errs.Op = "table.SetPageSize"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if n <= 0 || n > service.MaxPageSize {
		return errs.E(errs.InvalidRequest, op, errs.Parameter("size"), errs.Str("page size out of range"))
	}

	c.query.PageSize = n
	c.query.PageIndex = 0
	c.scheduleLocked(true)

	return nil
}

// SetSort sorts by field. Sorting by the current field flips the direction,
// a new field starts ascending.
func (c *Controller) SetSort(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ascending := true
	if field == c.query.SortField {
		ascending = !c.query.SortAscending
	}

	return c.setSortLocked(field, ascending)
}

// SetSortOrder sorts by field in the given direction.
func (c *Controller) SetSortOrder(field string, ascending bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setSortLocked(field, ascending)
}

func (c *Controller) setSortLocked(field string, ascending bool) error {
	const op errs.Op = "table.SetSort"

	if c.closed {
		return nil
	}

	if field != "" && !c.sortableLocked(field) {
		return errs.E(errs.InvalidRequest, op, errs.Parameter("sort"), ErrNotSortable)
	}

	c.query.SortField = field
	c.query.SortAscending = ascending
	c.query.PageIndex = 0
	c.scheduleLocked(true)

	return nil
}

func (c *Controller) sortableLocked(field string) bool {
	if f, ok := c.schema.Lookup(field); ok {
		return schema.Sortable(f.Kind)
	}

	if schema.IsReserved(field) {
		return true
	}

	// Until the first page arrives nothing is known about the columns.
	return c.schema.Empty()
}

// SetSearch records a search term. The fetch happens once the debounce
// window passes without another call; each call restarts the window.
func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.cancelSearchLocked()

	c.searchSeq++
	seq := c.searchSeq
	c.pendingSearch = &term

	c.searchTimer = c.clock.AfterFunc(c.debounce, func() {
		go c.fireSearch(seq)
	})
}

func (c *Controller) fireSearch(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || seq != c.searchSeq || c.pendingSearch == nil {
		return
	}

	c.query.Search = *c.pendingSearch
	c.query.PageIndex = 0
	c.pendingSearch = nil
	c.searchTimer = nil
	c.scheduleLocked(true)
}

func (c *Controller) cancelSearchLocked() {
	if c.searchTimer != nil {
		c.searchTimer.Stop()
		c.searchTimer = nil
	}

	c.searchSeq++
	c.pendingSearch = nil
}

// RequestDelete opens the confirmation step for deleting a record.
func (c *Controller) RequestDelete(id string) error {
	const op errs.Op = "table.RequestDelete"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	if id == "" {
		return errs.E(errs.InvalidRequest, op, errs.Parameter("id"), errs.Str("record id is required"))
	}

	if !c.policy(c.collection).Deletable || c.deleter == nil {
		return errs.E(errs.InvalidRequest, op, errs.Str("records in this collection cannot be deleted"))
	}

	c.pendingDelete = id

	return nil
}

func (c *Controller) CancelDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingDelete = ""
}

// ConfirmDelete deletes the record awaiting confirmation and then refetches
// the current page in the background. The delete always runs to completion.
func (c *Controller) ConfirmDelete(ctx context.Context) error {
	const op errs.Op = "table.ConfirmDelete"

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	id := c.pendingDelete
	collection := c.collection
	c.pendingDelete = ""
	c.mu.Unlock()

	if id == "" {
		return errs.E(errs.InvalidRequest, op, errs.Str("no delete awaiting confirmation"))
	}

	// Detached so a caller that goes away cannot abort a confirmed delete.
	if err := c.deleter.Delete(context.WithoutCancel(ctx), collection, id); err != nil {
		return errs.E(op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed && c.collection == collection {
		c.scheduleLocked(false)
	}

	return nil
}

// Close stops the debounce timer. Calls after Close do nothing and pending
// fetch results are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelSearchLocked()
	c.closed = true
}

func (c *Controller) filterLocked() service.Filter {
	policy := c.policy(c.collection)

	return service.Filter{
		Search:       c.query.Search,
		SearchFields: schema.SearchFields(c.schema, policy.SearchFields),
		SortField:    c.query.SortField,
		Ascending:    c.query.SortAscending,
		Offset:       c.query.Offset(),
		Limit:        c.query.PageSize,
	}
}

// scheduleLocked issues the fetch for the current query state. A primary
// fetch shows the loading indicator, a background one does not.
func (c *Controller) scheduleLocked(primary bool) {
	c.generation++
	gen := c.generation

	c.status = StatusFetchPending
	if primary {
		c.loading = true
	}

	collection := c.collection
	filter := c.filterLocked()

	c.log.Debug().
		Str("collection", collection).
		Uint64("generation", gen).
		Bool("primary", primary).
		Int("offset", filter.Offset).
		Int("limit", filter.Limit).
		Str("search", filter.Search).
		Msg("fetching page")

	go c.run(gen, collection, filter)
}

func (c *Controller) run(gen uint64, collection string, filter service.Filter) {
	start := c.clock.Now()
	page, err := c.fetcher.Fetch(c.ctx, collection, filter)
	elapsed := c.clock.Since(start)

	c.observer.Fetched(collection, elapsed, err)

	c.mu.Lock()

	if c.closed || gen != c.generation {
		c.mu.Unlock()
		c.observer.Superseded(collection)
		c.log.Debug().Str("collection", collection).Uint64("generation", gen).Msg("discarding superseded page")

		return
	}

	c.loading = false

	if err != nil {
		c.rows = nil
		c.total = 0
		c.status = StatusError
		c.lastErr = err
		c.log.Error().Err(err).Str("collection", collection).Msg("fetching page")
	} else {
		c.rows = page.Rows
		c.total = page.Total
		c.status = StatusIdle
		c.lastErr = nil

		if c.schema.Empty() {
			c.schema = schema.DeriveFromPage(page)
		}

		// A delete can empty the last page. Step back to the new last page
		// so the offset stays inside the collection.
		if len(page.Rows) == 0 && page.Total > 0 && c.query.Offset() >= page.Total {
			c.query.PageIndex = service.PageCount(page.Total, c.query.PageSize) - 1
			c.log.Debug().Str("collection", collection).Int("page", c.query.PageIndex).Msg("page past the end, moving to last page")
			c.scheduleLocked(false)
		}
	}

	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.onSettled != nil {
		c.onSettled(snap)
	}
}
