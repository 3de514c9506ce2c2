// Package database opens SQL connections for the collection store and the
// session store, with query logging hooks and embedded migrations.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/qustavo/sqlhooks/v2"
	"github.com/rs/zerolog"

	// Registered SQL drivers, selected by Dialect.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	registerMu sync.Mutex
	registered = map[string]string{}
)

// Open returns a connection pool for the dialect's driver, wrapped so every
// query is logged at debug level.
func Open(ctx context.Context, d Dialect, dsn string, opts Options, log zerolog.Logger) (*sql.DB, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("unsupported sql dialect %q", d)
	}

	name, err := hookedDriver(d, log)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	// An in-memory sqlite database exists once per connection.
	if d == SQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", d, err)
	}

	return db, nil
}

func hookedDriver(d Dialect, log zerolog.Logger) (string, error) {
	registerMu.Lock()
	defer registerMu.Unlock()

	if name, ok := registered[d.DriverName()]; ok {
		return name, nil
	}

	// sql.Open does not connect, it only resolves the registered driver.
	tmp, err := sql.Open(d.DriverName(), "")
	if err != nil {
		return "", fmt.Errorf("resolving driver %s: %w", d.DriverName(), err)
	}
	drv := tmp.Driver()
	_ = tmp.Close()

	name := d.DriverName() + "-hooked"
	sql.Register(name, sqlhooks.Wrap(drv, &queryHooks{
		log: log.With().Str("subsystem", "sql").Str("dialect", string(d)).Logger(),
	}))
	registered[d.DriverName()] = name

	return name, nil
}

type startedAt struct{}

type queryHooks struct {
	log zerolog.Logger
}

var (
	_ sqlhooks.Hooks     = &queryHooks{}
	_ sqlhooks.OnErrorer = &queryHooks{}
)

func (h *queryHooks) Before(ctx context.Context, _ string, _ ...interface{}) (context.Context, error) {
	return context.WithValue(ctx, startedAt{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if e := h.log.Debug(); e.Enabled() {
		e.Str("query", query).Int("args", len(args)).Dur("duration", since(ctx)).Msg("sql")
	}

	return ctx, nil
}

func (h *queryHooks) OnError(ctx context.Context, err error, query string, _ ...interface{}) error {
	if errors.Is(err, driver.ErrSkip) {
		return err
	}

	h.log.Debug().Err(err).Str("query", query).Dur("duration", since(ctx)).Msg("sql failed")

	return err
}

func since(ctx context.Context) time.Duration {
	t, ok := ctx.Value(startedAt{}).(time.Time)
	if !ok {
		return 0
	}

	return time.Since(t)
}

// Migrate applies the embedded session store migrations written for the
// dialect.
func Migrate(ctx context.Context, db *sql.DB, d Dialect, log zerolog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(&gooseLogger{log: log.With().Str("subsystem", "migrations").Logger()})

	if err := goose.SetDialect(d.GooseDialect()); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/"+d.GooseDialect()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

type gooseLogger struct {
	log zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Fatal().Msgf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}
