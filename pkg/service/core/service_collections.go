package core

import (
	"context"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/form"
	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/table"
)

const slugField = "slug"

var (
	_ service.CollectionService = &collectionService{}
	_ table.Fetcher             = &collectionService{}
	_ table.Deleter             = &collectionService{}
)

// MutationObserver is told about every create, update and delete.
type MutationObserver interface {
	Mutated(op string, err error)
}

type nopMutationObserver struct{}

func (nopMutationObserver) Mutated(string, error) {}

type collectionService struct {
	store    service.CollectionStorage
	policy   func(collection string) service.CollectionPolicy
	observer MutationObserver
	log      zerolog.Logger
}

func (s *collectionService) List(ctx context.Context, collection string, q service.QueryState) (*service.ListResult, error) {
	const op errs.Op = "collectionService.List"

	if err := q.Validate(); err != nil {
		return nil, errs.E(errs.InvalidRequest, op, err)
	}

	policy := s.policy(collection)

	sch := policy.StaticSchema
	if sch.Empty() && (q.Search != "" || q.SortField != "") {
		// Search targets and sort columns depend on the column kinds, so
		// learn them from a sample row first.
		var err error
		sch, err = s.sample(ctx, collection)
		if err != nil {
			return nil, errs.E(op, err)
		}
	}

	if q.SortField != "" && !sortable(sch, q.SortField) {
		return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("sort"), table.ErrNotSortable)
	}

	page, err := s.store.Select(ctx, collection, service.Filter{
		Search:       q.Search,
		SearchFields: schema.SearchFields(sch, policy.SearchFields),
		SortField:    q.SortField,
		Ascending:    q.SortAscending,
		Offset:       q.Offset(),
		Limit:        q.PageSize,
	})
	if err != nil {
		return nil, errs.E(op, err)
	}

	if sch.Empty() {
		sch = schema.DeriveFromPage(page)
	}

	return &service.ListResult{
		Collection: collection,
		Query:      q,
		Schema:     sch,
		Rows:       page.Rows,
		Total:      page.Total,
		PageCount:  service.PageCount(page.Total, q.PageSize),
		Deletable:  policy.Deletable,
	}, nil
}

func sortable(sch service.Schema, field string) bool {
	if f, ok := sch.Lookup(field); ok {
		return schema.Sortable(f.Kind)
	}

	return schema.IsReserved(field) || sch.Empty()
}

func (s *collectionService) Get(ctx context.Context, collection, id string) (*service.RecordResult, error) {
	const op errs.Op = "collectionService.Get"

	rec, err := s.store.Get(ctx, collection, id)
	if err != nil {
		return nil, errs.E(op, err)
	}

	sch := s.policy(collection).StaticSchema
	if sch.Empty() {
		sch = schema.DeriveSchema(rec)
	}

	return &service.RecordResult{
		Collection: collection,
		Schema:     sch,
		Record:     rec.Values,
	}, nil
}

func (s *collectionService) Create(ctx context.Context, collection string, in service.Record) (out service.Record, err error) {
	const op errs.Op = "collectionService.Create"

	defer func() { s.observer.Mutated("create", err) }()

	ctx = context.WithoutCancel(ctx)

	sch, err := s.Schema(ctx, collection)
	if err != nil {
		return nil, errs.E(op, err)
	}

	rec, err := s.prepare(sch, in, nil, form.ModeCreate)
	if err != nil {
		return nil, errs.E(op, err)
	}

	fillSlug(rec, s.policy(collection).SlugFrom, true)

	out, err = s.store.Insert(ctx, collection, rec)
	if err != nil {
		return nil, errs.E(op, err)
	}

	s.log.Info().Str("collection", collection).Str("id", out.ID()).Msg("record created")

	return out, nil
}

func (s *collectionService) Update(ctx context.Context, collection, id string, in service.Record) (out service.Record, err error) {
	const op errs.Op = "collectionService.Update"

	defer func() { s.observer.Mutated("update", err) }()

	ctx = context.WithoutCancel(ctx)

	original, err := s.store.Get(ctx, collection, id)
	if err != nil {
		return nil, errs.E(op, err)
	}

	sch := s.policy(collection).StaticSchema
	if sch.Empty() {
		sch = schema.DeriveSchema(original)
	}

	rec, err := s.prepare(sch, in, original.Values, form.ModeEdit)
	if err != nil {
		return nil, errs.E(op, err)
	}

	fillSlug(rec, s.policy(collection).SlugFrom, false)

	out, err = s.store.Update(ctx, collection, id, rec)
	if err != nil {
		return nil, errs.E(op, err)
	}

	s.log.Info().Str("collection", collection).Str("id", id).Msg("record updated")

	return out, nil
}

func (s *collectionService) prepare(sch service.Schema, in, original service.Record, mode form.Mode) (service.Record, error) {
	const op errs.Op = "collectionService.prepare"

	rec, err := form.CoerceRecord(sch, in)
	if err != nil {
		return nil, errs.E(op, err)
	}

	if fe := form.Validate(sch, rec, original, mode); len(fe) > 0 {
		return nil, errs.E(errs.Validation, op, fe)
	}

	return rec, nil
}

// fillSlug derives the slug from the source field when the slug is left
// empty. On create a missing slug counts as empty.
func fillSlug(rec service.Record, from string, create bool) {
	if from == "" {
		return
	}

	current, present := rec[slugField]
	if !present && !create {
		return
	}

	if s, _ := current.(string); s != "" {
		return
	}

	source, ok := rec[from].(string)
	if !ok || source == "" {
		return
	}

	rec[slugField] = slug.Make(source)
}

func (s *collectionService) Delete(ctx context.Context, collection, id string) (err error) {
	const op errs.Op = "collectionService.Delete"

	if !s.policy(collection).Deletable {
		return errs.E(errs.InvalidRequest, op, errs.Str("records in this collection cannot be deleted"))
	}

	defer func() { s.observer.Mutated("delete", err) }()

	ctx = context.WithoutCancel(ctx)

	if err := s.store.Delete(ctx, collection, id); err != nil {
		return errs.E(op, err)
	}

	s.log.Info().Str("collection", collection).Str("id", id).Msg("record deleted")

	return nil
}

// Schema returns the configured columns of a collection, or the columns
// inferred from its first row. An empty collection has an empty schema.
func (s *collectionService) Schema(ctx context.Context, collection string) (service.Schema, error) {
	const op errs.Op = "collectionService.Schema"

	if static := s.policy(collection).StaticSchema; !static.Empty() {
		return static, nil
	}

	sch, err := s.sample(ctx, collection)
	if err != nil {
		return service.Schema{}, errs.E(op, err)
	}

	return sch, nil
}

func (s *collectionService) sample(ctx context.Context, collection string) (service.Schema, error) {
	page, err := s.store.Select(ctx, collection, service.Filter{Limit: 1})
	if err != nil {
		return service.Schema{}, err
	}

	return schema.DeriveFromPage(page), nil
}

func (s *collectionService) Policy(collection string) service.CollectionPolicy {
	return s.policy(collection)
}

// Fetch lets list views read pages through the service.
func (s *collectionService) Fetch(ctx context.Context, collection string, filter service.Filter) (*service.Page, error) {
	const op errs.Op = "collectionService.Fetch"

	if filter.Search != "" && len(filter.SearchFields) == 0 {
		// The view searched before its first page told it the columns.
		sch, err := s.Schema(ctx, collection)
		if err != nil {
			return nil, errs.E(op, err)
		}

		filter.SearchFields = schema.SearchFields(sch, s.policy(collection).SearchFields)
	}

	page, err := s.store.Select(ctx, collection, filter)
	if err != nil {
		return nil, errs.E(op, err)
	}

	return page, nil
}

type CollectionOption func(*collectionService)

func WithMutationObserver(o MutationObserver) CollectionOption {
	return func(s *collectionService) {
		s.observer = o
	}
}

func NewCollectionService(
	store service.CollectionStorage,
	policy func(collection string) service.CollectionPolicy,
	log zerolog.Logger,
	opts ...CollectionOption,
) *collectionService {
	s := &collectionService{
		store:    store,
		policy:   policy,
		observer: nopMutationObserver{},
		log:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}
