// Package sessions keeps console sessions in a SQL database.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alris/cms-backend/pkg/database"
	"github.com/alris/cms-backend/pkg/errs"
	"github.com/alris/cms-backend/pkg/service"
)

var _ service.SessionStorage = &sessionStorage{}

type sessionStorage struct {
	db      *sql.DB
	dialect database.Dialect
}

func (s *sessionStorage) p(n int) string {
	return s.dialect.Placeholder(n)
}

func (s *sessionStorage) CreateSession(ctx context.Context, session *service.Session) error {
	const op errs.Op = "sessionStorage.CreateSession"

	query := fmt.Sprintf(
		`INSERT INTO sessions (token, user_id, email, access_token, refresh_token, created, expires) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.p(1), s.p(2), s.p(3), s.p(4), s.p(5), s.p(6), s.p(7),
	)

	_, err := s.db.ExecContext(ctx, query,
		session.Token,
		session.UserID,
		session.Email,
		session.AccessToken,
		session.RefreshToken,
		session.Created.UTC(),
		session.Expires.UTC(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errs.E(errs.Exist, op, errs.UserName(session.Email), err)
		}

		return errs.E(errs.Database, op, err)
	}

	return nil
}

func (s *sessionStorage) GetSession(ctx context.Context, token string) (*service.Session, error) {
	const op errs.Op = "sessionStorage.GetSession"

	query := fmt.Sprintf(
		`SELECT token, user_id, email, access_token, refresh_token, created, expires FROM sessions WHERE token = %s`,
		s.p(1),
	)

	sess := &service.Session{}

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&sess.Token,
		&sess.UserID,
		&sess.Email,
		&sess.AccessToken,
		&sess.RefreshToken,
		&sess.Created,
		&sess.Expires,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.E(errs.NotExist, op, errs.Parameter("token"), err)
		}

		return nil, errs.E(errs.Database, op, err)
	}

	return sess, nil
}

func (s *sessionStorage) DeleteSession(ctx context.Context, token string) error {
	const op errs.Op = "sessionStorage.DeleteSession"

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM sessions WHERE token = %s`, s.p(1)), token)
	if err != nil {
		return errs.E(errs.Database, op, err)
	}

	return nil
}

func (s *sessionStorage) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	const op errs.Op = "sessionStorage.DeleteExpiredSessions"

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM sessions WHERE expires < %s`, s.p(1)), before.UTC())
	if err != nil {
		return 0, errs.E(errs.Database, op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.E(errs.Database, op, err)
	}

	return n, nil
}

func NewSessionStorage(db *sql.DB, dialect database.Dialect) *sessionStorage {
	return &sessionStorage{
		db:      db,
		dialect: dialect,
	}
}
