// Package sqlstore serves collections straight from the tables of a SQL
// database. Every collection is a table and every record a row.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

var _ service.CollectionStorage = &Store{}

type Store struct {
	db      *sql.DB
	dialect database.Dialect
	schema  string
	idField string
	log     zerolog.Logger
}

type Option func(*Store)

// WithSchema qualifies every table with a database schema, e.g. "public".
func WithSchema(schema string) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

func WithIDField(name string) Option {
	return func(s *Store) {
		s.idField = name
	}
}

func New(db *sql.DB, dialect database.Dialect, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		idField: "id",
		log:     log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) table(op errs.Op, collection string) (string, error) {
	if !database.ValidIdentifier(collection) {
		return "", errs.E(errs.InvalidRequest, op, errs.Parameter("collection"), fmt.Errorf("invalid collection name %q", collection))
	}

	return s.dialect.Table(s.schema, collection), nil
}

func (s *Store) Select(ctx context.Context, collection string, filter service.Filter) (*service.Page, error) {
	const op errs.Op = "sqlstore.Select"

	table, err := s.table(op, collection)
	if err != nil {
		return nil, err
	}

	where, args, err := s.where(op, filter)
	if err != nil {
		return nil, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return nil, s.classify(op, err)
	}

	query := "SELECT * FROM " + table + where

	ordered := false
	if filter.SortField != "" {
		if !database.ValidIdentifier(filter.SortField) {
			return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("sort"), fmt.Errorf("invalid sort field %q", filter.SortField))
		}

		direction := "DESC"
		if filter.Ascending {
			direction = "ASC"
		}

		query += " ORDER BY " + s.dialect.Quote(filter.SortField) + " " + direction
		ordered = true
	}

	if filter.Limit > 0 {
		query += s.dialect.Paginate(filter.Limit, filter.Offset, ordered)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	keys, records, err := scanRecords(rows)
	if err != nil {
		return nil, errs.E(errs.Database, op, err)
	}

	return &service.Page{
		Rows:  records,
		Keys:  keys,
		Total: total,
	}, nil
}

// where builds a case-insensitive substring match over the search fields,
// joined with OR. A term without searchable fields matches no rows.
func (s *Store) where(op errs.Op, filter service.Filter) (string, []any, error) {
	if filter.Search == "" {
		return "", nil, nil
	}

	if len(filter.SearchFields) == 0 {
		return " WHERE 1 = 0", nil, nil
	}

	term := "%" + strings.ToLower(database.EscapeLike(filter.Search)) + "%"

	conds := make([]string, 0, len(filter.SearchFields))
	args := make([]any, 0, len(filter.SearchFields))

	for i, f := range filter.SearchFields {
		if !database.ValidIdentifier(f.Name) {
			return "", nil, errs.E(errs.InvalidRequest, op, errs.Parameter("search"), fmt.Errorf("invalid search field %q", f.Name))
		}

		conds = append(conds, fmt.Sprintf(`LOWER(%s) LIKE %s ESCAPE '\'`,
			s.dialect.TextCast(s.dialect.Quote(f.Name)), s.dialect.Placeholder(i+1)))
		args = append(args, term)
	}

	return " WHERE (" + strings.Join(conds, " OR ") + ")", args, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*service.OrderedRecord, error) {
	const op errs.Op = "sqlstore.Get"

	table, err := s.table(op, collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", table, s.dialect.Quote(s.idField), s.dialect.Placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, s.classify(op, err)
	}
	defer rows.Close()

	keys, records, err := scanRecords(rows)
	if err != nil {
		return nil, errs.E(errs.Database, op, err)
	}

	if len(records) == 0 {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s: %w", collection, id, sql.ErrNoRows))
	}

	return &service.OrderedRecord{Keys: keys, Values: records[0]}, nil
}

func (s *Store) Insert(ctx context.Context, collection string, record service.Record) (service.Record, error) {
	const op errs.Op = "sqlstore.Insert"

	table, err := s.table(op, collection)
	if err != nil {
		return nil, err
	}

	cols, args, err := s.columns(op, record)
	if err != nil {
		return nil, err
	}

	var query string
	if len(cols) == 0 {
		query = "INSERT INTO " + table + s.dialect.OutputClause() + " DEFAULT VALUES" + s.dialect.ReturningSuffix()
	} else {
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = s.dialect.Quote(c)
			placeholders[i] = s.dialect.Placeholder(i + 1)
		}

		query = fmt.Sprintf("INSERT INTO %s (%s)%s VALUES (%s)%s",
			table,
			strings.Join(quoted, ", "),
			s.dialect.OutputClause(),
			strings.Join(placeholders, ", "),
			s.dialect.ReturningSuffix(),
		)
	}

	out, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}

	if out == nil {
		return nil, errs.E(errs.Database, op, errs.Str("insert returned no row"))
	}

	return out, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, record service.Record) (service.Record, error) {
	const op errs.Op = "sqlstore.Update"

	table, err := s.table(op, collection)
	if err != nil {
		return nil, err
	}

	record = maps.Clone(record)
	delete(record, s.idField)

	cols, args, err := s.columns(op, record)
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		got, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, errs.E(op, err)
		}

		return got.Values, nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = s.dialect.Quote(c) + " = " + s.dialect.Placeholder(i+1)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s%s WHERE %s = %s%s",
		table,
		strings.Join(sets, ", "),
		s.dialect.OutputClause(),
		s.dialect.Quote(s.idField),
		s.dialect.Placeholder(len(args)),
		s.dialect.ReturningSuffix(),
	)

	out, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, s.classify(op, err)
	}

	if out == nil {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s: %w", collection, id, sql.ErrNoRows))
	}

	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	const op errs.Op = "sqlstore.Delete"

	table, err := s.table(op, collection)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, s.dialect.Quote(s.idField), s.dialect.Placeholder(1))

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return s.classify(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errs.E(errs.Database, op, err)
	}

	if n == 0 {
		return errs.E(errs.NotExist, op, errs.Parameter("id"), fmt.Errorf("%s %s: %w", collection, id, sql.ErrNoRows))
	}

	return nil
}

// columns returns the record's column names in a stable order with their
// encoded values.
func (s *Store) columns(op errs.Op, record service.Record) ([]string, []any, error) {
	cols := make([]string, 0, len(record))
	for k := range record {
		if !database.ValidIdentifier(k) {
			return nil, nil, errs.E(errs.InvalidRequest, op, errs.Parameter(k), fmt.Errorf("invalid field name %q", k))
		}
		cols = append(cols, k)
	}
	slices.Sort(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := encodeValue(record[c])
		if err != nil {
			return nil, nil, errs.E(errs.Invalid, op, errs.Parameter(c), err)
		}
		args[i] = v
	}

	return cols, args, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (service.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	_, records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	return records[0], nil
}

func (s *Store) classify(op errs.Op, err error) error {
	switch {
	case database.IsUniqueViolation(err):
		return errs.E(errs.Exist, op, err)
	case errors.Is(err, sql.ErrNoRows):
		return errs.E(errs.NotExist, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.E(errs.IO, op, err)
	default:
		return errs.E(errs.Database, op, err)
	}
}
