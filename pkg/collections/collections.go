// Package collections opens the configured collection backend.
package collections

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/alris/cms-backend/pkg/collections/postgrest"
	"github.com/alris/cms-backend/pkg/collections/rethink"
	"github.com/alris/cms-backend/pkg/collections/sqlstore"
	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/service"
)

// Backend is an open collection store together with whatever connection
// it holds.
type Backend struct {
	service.CollectionStorage

	Kind  string
	close func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}

	return b.close()
}

type options struct {
	client *http.Client
	token  postgrest.TokenFunc
}

type Option func(*options)

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithTokenFunc forwards the signed in user's access token to backends
// that enforce row level security.
func WithTokenFunc(fn postgrest.TokenFunc) Option {
	return func(o *options) {
		o.token = fn
	}
}

func Open(ctx context.Context, cfg config.Backend, log zerolog.Logger, opts ...Option) (*Backend, error) {
	o := &options{
		client: &http.Client{Timeout: cfg.Timeout()},
	}

	for _, opt := range opts {
		opt(o)
	}

	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}

	log = log.With().Str("backend", cfg.Kind).Logger()

	switch cfg.Kind {
	case config.BackendPostgREST:
		pgOpts := []postgrest.Option{
			postgrest.WithSchema(cfg.Schema),
			postgrest.WithIDField(idField),
		}

		if o.token != nil {
			pgOpts = append(pgOpts, postgrest.WithTokenFunc(o.token))
		}

		return &Backend{
			CollectionStorage: postgrest.New(cfg.URL, cfg.APIKey, o.client, pgOpts...),
			Kind:              cfg.Kind,
		}, nil

	case config.BackendPostgres, config.BackendPgx, config.BackendSQLite, config.BackendSQLServer:
		dialect := database.Dialect(cfg.Kind)

		db, err := database.Open(ctx, dialect, cfg.DSN, database.Options{
			MaxOpenConns: cfg.MaxOpenConnections,
			MaxIdleConns: cfg.MaxIdleConnections,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("opening %s backend: %w", cfg.Kind, err)
		}

		return &Backend{
			CollectionStorage: sqlstore.New(db, dialect, log, sqlstore.WithSchema(cfg.Schema), sqlstore.WithIDField(idField)),
			Kind:              cfg.Kind,
			close:             db.Close,
		}, nil

	case config.BackendRethinkDB:
		sess, err := rethink.Connect(rethink.Options{
			Address:  cfg.RethinkDB.Address,
			Database: cfg.RethinkDB.Database,
			Username: cfg.RethinkDB.Username,
			Password: cfg.RethinkDB.Password,
			MaxOpen:  cfg.MaxOpenConnections,
			Timeout:  cfg.Timeout(),
		})
		if err != nil {
			return nil, err
		}

		return &Backend{
			CollectionStorage: rethink.New(sess, cfg.RethinkDB.Database, log, rethink.WithIDField(idField)),
			Kind:              cfg.Kind,
			close:             func() error { return sess.Close() },
		}, nil
	}

	return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
}
