// Package rethink stores collections as RethinkDB tables, one document per
// record.
package rethink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

var _ service.CollectionStorage = &Store{}

type Options struct {
	Address  string
	Database string
	Username string
	Password string
	MaxOpen  int
	Timeout  time.Duration
}

// Connect opens a session pool to the cluster at opts.Address.
func Connect(opts Options) (*r.Session, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, fmt.Errorf("rethinkdb: address required")
	}

	connOpts := r.ConnectOpts{
		Address:      address,
		Database:     opts.Database,
		InitialCap:   2,
		MaxOpen:      10,
		Timeout:      3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if opts.MaxOpen > 0 {
		connOpts.MaxOpen = opts.MaxOpen
	}

	if opts.Timeout > 0 {
		connOpts.Timeout = opts.Timeout
		connOpts.ReadTimeout = opts.Timeout
		connOpts.WriteTimeout = opts.Timeout
	}

	if u := strings.TrimSpace(opts.Username); u != "" {
		connOpts.Username = u
		connOpts.Password = strings.TrimSpace(opts.Password)
	}

	sess, err := r.Connect(connOpts)
	if err != nil {
		return nil, fmt.Errorf("rethinkdb connect failed addr=%s: %w", address, err)
	}

	return sess, nil
}

// Store runs collection queries against one database. Documents have no
// column order, so pages carry no key order and schemas fall back to
// sorted field names.
type Store struct {
	exec     r.QueryExecutor
	database string
	idField  string
	log      zerolog.Logger
}

type Option func(*Store)

func WithIDField(name string) Option {
	return func(s *Store) {
		s.idField = name
	}
}

func New(exec r.QueryExecutor, database string, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		exec:     exec,
		database: database,
		idField:  "id",
		log:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) table(collection string) (r.Term, error) {
	if !database.ValidIdentifier(collection) {
		return r.Term{}, errs.E(errs.InvalidRequest, errs.Parameter("collection"), fmt.Errorf("invalid collection name %q", collection))
	}

	return r.DB(s.database).Table(collection), nil
}

func (s *Store) Select(ctx context.Context, collection string, filter service.Filter) (*service.Page, error) {
	const op errs.Op = "rethink.Select"

	term, err := s.table(collection)
	if err != nil {
		return nil, errs.E(op, err)
	}

	if filter.Search != "" {
		if len(filter.SearchFields) == 0 {
			return &service.Page{}, nil
		}

		term = term.Filter(searchPredicate(filter))
	}

	var total int
	if err := s.one(ctx, term.Count(), &total); err != nil {
		return nil, errs.E(op, err)
	}

	if filter.SortField != "" {
		if !database.ValidIdentifier(filter.SortField) {
			return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("sort"), fmt.Errorf("invalid sort field %q", filter.SortField))
		}

		if filter.Ascending {
			term = term.OrderBy(r.Asc(filter.SortField))
		} else {
			term = term.OrderBy(r.Desc(filter.SortField))
		}
	}

	if filter.Limit > 0 {
		term = term.Skip(filter.Offset).Limit(filter.Limit)
	}

	cur, err := term.Run(s.exec, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, errs.E(op, classify(err))
	}
	defer cur.Close()

	var docs []map[string]any
	if err := cur.All(&docs); err != nil {
		return nil, errs.E(op, classify(err))
	}

	rows := make([]service.Record, len(docs))
	for i, d := range docs {
		rows[i] = d
	}

	return &service.Page{
		Rows:  rows,
		Total: total,
	}, nil
}

// searchPredicate matches the term case-insensitively against the string
// form of every search field.
func searchPredicate(filter service.Filter) func(r.Term) r.Term {
	pattern := "(?i)" + regexp.QuoteMeta(filter.Search)

	return func(row r.Term) r.Term {
		conds := make([]any, len(filter.SearchFields))
		for i, f := range filter.SearchFields {
			conds[i] = row.Field(f.Name).Default("").CoerceTo("string").Match(pattern)
		}

		return r.Or(conds...)
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*service.OrderedRecord, error) {
	const op errs.Op = "rethink.Get"

	term, err := s.table(collection)
	if err != nil {
		return nil, errs.E(op, err)
	}

	var doc map[string]any
	if err := s.one(ctx, term.Get(id), &doc); err != nil {
		return nil, errs.E(op, errs.Parameter("id"), err)
	}

	if doc == nil {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	return &service.OrderedRecord{Values: doc}, nil
}

func (s *Store) Insert(ctx context.Context, collection string, record service.Record) (service.Record, error) {
	const op errs.Op = "rethink.Insert"

	term, err := s.table(collection)
	if err != nil {
		return nil, errs.E(op, err)
	}

	res, err := term.Insert(map[string]any(record), r.InsertOpts{ReturnChanges: true}).RunWrite(s.exec, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, errs.E(op, classify(err))
	}

	if res.Errors > 0 {
		return nil, errs.E(op, classify(errors.New(res.FirstError)))
	}

	return newValue(op, res, collection, "")
}

func (s *Store) Update(ctx context.Context, collection, id string, record service.Record) (service.Record, error) {
	const op errs.Op = "rethink.Update"

	term, err := s.table(collection)
	if err != nil {
		return nil, errs.E(op, err)
	}

	patch := make(map[string]any, len(record))
	for k, v := range record {
		if k != s.idField {
			patch[k] = v
		}
	}

	res, err := term.Get(id).Update(patch, r.UpdateOpts{ReturnChanges: "always"}).RunWrite(s.exec, r.RunOpts{Context: ctx})
	if err != nil {
		return nil, errs.E(op, classify(err))
	}

	if res.Errors > 0 {
		return nil, errs.E(op, classify(errors.New(res.FirstError)))
	}

	if res.Skipped > 0 {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	return newValue(op, res, collection, id)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	const op errs.Op = "rethink.Delete"

	term, err := s.table(collection)
	if err != nil {
		return errs.E(op, err)
	}

	res, err := term.Get(id).Delete().RunWrite(s.exec, r.RunOpts{Context: ctx})
	if err != nil {
		return errs.E(op, classify(err))
	}

	if res.Deleted == 0 {
		return errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	s.log.Debug().Str("collection", collection).Str("id", id).Msg("document deleted")

	return nil
}

func (s *Store) one(ctx context.Context, term r.Term, into any) error {
	cur, err := term.Run(s.exec, r.RunOpts{Context: ctx})
	if err != nil {
		return classify(err)
	}
	defer cur.Close()

	if cur.IsNil() {
		return nil
	}

	if err := cur.One(into); err != nil && !errors.Is(err, r.ErrEmptyResult) {
		return classify(err)
	}

	return nil
}

func newValue(op errs.Op, res r.WriteResponse, collection, id string) (service.Record, error) {
	if len(res.Changes) == 0 {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s not found", collection, id))
	}

	doc, ok := res.Changes[0].NewValue.(map[string]any)
	if !ok {
		return nil, errs.E(errs.Database, op, fmt.Errorf("unexpected document %T", res.Changes[0].NewValue))
	}

	return doc, nil
}

func classify(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "Duplicate primary key"):
		return errs.E(errs.Exist, err)
	case strings.Contains(msg, "does not exist"):
		return errs.E(errs.NotExist, err)
	case errors.Is(err, r.ErrConnectionClosed), errors.Is(err, r.ErrNoConnections), errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.IO, err)
	}

	return errs.E(errs.Database, err)
}
