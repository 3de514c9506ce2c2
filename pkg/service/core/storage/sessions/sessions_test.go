package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
	"github.com/alris/cms-backend/pkg/service/core/storage/sessions"
)

func newStorage(t *testing.T) service.SessionStorage {
	t.Helper()

	ctx := context.Background()

	db, err := database.Open(ctx, database.SQLite, ":memory:", database.Options{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db, database.SQLite, zerolog.Nop()))

	return sessions.NewSessionStorage(db, database.SQLite)
}

func TestSessionStorage(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	live := &service.Session{
		Token:        "live",
		UserID:       "u1",
		Email:        "ada@example.com",
		AccessToken:  "jwt",
		RefreshToken: "refresh",
		Created:      now,
		Expires:      now.Add(time.Hour),
	}
	stale := &service.Session{
		Token:       "stale",
		UserID:      "u2",
		Email:       "bob@example.com",
		AccessToken: "old",
		Created:     now.Add(-2 * time.Hour),
		Expires:     now.Add(-time.Hour),
	}

	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, stale))

	err := s.CreateSession(ctx, live)
	assert.True(t, errs.KindIs(errs.Exist, err))

	got, err := s.GetSession(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, live.Email, got.Email)
	assert.Equal(t, live.AccessToken, got.AccessToken)
	assert.True(t, live.Expires.Equal(got.Expires))

	n, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "stale")
	assert.True(t, errs.KindIs(errs.NotExist, err))

	require.NoError(t, s.DeleteSession(ctx, "live"))

	_, err = s.GetSession(ctx, "live")
	assert.True(t, errs.KindIs(errs.NotExist, err))
}
