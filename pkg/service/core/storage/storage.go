package storage

import (
	"database/sql"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core/storage/sessions"
)

type Stores struct {
	CollectionStorage service.CollectionStorage
	SessionStorage    service.SessionStorage
}

func NewStores(
	collections service.CollectionStorage,
	sessionDB *sql.DB,
	sessionDialect database.Dialect,
) *Stores {
	return &Stores{
		CollectionStorage: collections,
		SessionStorage:    sessions.NewSessionStorage(sessionDB, sessionDialect),
	}
}
