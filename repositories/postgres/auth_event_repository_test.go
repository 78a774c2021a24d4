package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth0-gateway/models"
	"go.uber.org/zap"
)

var eventColumns = []string{
	"id", "request_id", "result", "reason", "subject", "issuer",
	"token_count", "ip_address", "user_agent", "timestamp",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &DB{DB: conn, logger: zap.NewNop()}, mock
}

func TestAuthEventRepository_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts every column", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		event := models.NewAuthEvent(models.AuthResultAllowed, "ok").
			WithPrincipal("auth0|123", "https://example.auth0.com/", 2).
			WithRequest("req-1", "10.0.0.1", "curl/8.0")

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auth_events")).
			WithArgs(event.ID, "req-1", models.AuthResultAllowed, "ok", "auth0|123",
				"https://example.auth0.com/", 2, "10.0.0.1", "curl/8.0", event.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps database errors", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auth_events")).
			WillReturnError(sql.ErrConnDone)

		err := repo.Insert(ctx, models.NewAuthEvent(models.AuthResultDenied, "missing_token"))
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.Contains(t, err.Error(), "failed to insert auth event")
	})
}

func TestAuthEventRepository_ListRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	query := regexp.QuoteMeta("FROM auth_events")

	t.Run("returns rows in query order", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		first, second := uuid.New(), uuid.New()
		rows := sqlmock.NewRows(eventColumns).
			AddRow(first.String(), "req-2", "denied", "secondary_rejected", "", "", 3, "10.0.0.2", "curl", now).
			AddRow(second.String(), "req-1", "allowed", "ok", "auth0|123", "https://example.auth0.com/", 1, "10.0.0.1", "curl", now.Add(-time.Minute))
		mock.ExpectQuery(query).WithArgs(10).WillReturnRows(rows)

		events, err := repo.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)

		assert.Equal(t, first, events[0].ID)
		assert.Equal(t, models.AuthResultDenied, events[0].Result)
		assert.Equal(t, "secondary_rejected", events[0].Reason)
		assert.Equal(t, 3, events[0].TokenCount)
		assert.Equal(t, "auth0|123", events[1].Subject)
		assert.Equal(t, now.Add(-time.Minute), events[1].Timestamp)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clamps limit", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		mock.ExpectQuery(query).WithArgs(maxListLimit).WillReturnRows(sqlmock.NewRows(eventColumns))

		events, err := repo.ListRecent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		mock.ExpectQuery(query).WillReturnError(errors.New("relation does not exist"))

		_, err := repo.ListRecent(ctx, 5)
		assert.ErrorContains(t, err, "failed to query auth events")
	})

	t.Run("scan error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAuthEventRepository(db, zap.NewNop())

		rows := sqlmock.NewRows(eventColumns).
			AddRow("not-a-uuid", "req-1", "allowed", "ok", "", "", 1, "", "", now)
		mock.ExpectQuery(query).WillReturnRows(rows)

		_, err := repo.ListRecent(ctx, 5)
		assert.ErrorContains(t, err, "failed to scan auth event")
	})
}

func TestDB_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		assert.NoError(t, db.HealthCheck(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)

		err := db.HealthCheck(ctx)
		assert.ErrorContains(t, err, "database health check failed")
	})

	t.Run("query fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		err := db.HealthCheck(ctx)
		assert.ErrorContains(t, err, "database query check failed")
	})
}

func TestDB_InitSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("creates table", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS auth_events")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, db.InitSchema(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS auth_events")).
			WillReturnError(errors.New("permission denied"))

		assert.ErrorContains(t, db.InitSchema(ctx), "failed to initialize auth event schema")
	})
}
