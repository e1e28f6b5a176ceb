// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resetd/resetd/internal/request"
)

func newFixture(t *testing.T) (created time.Time, rr *request.ResetRequest) {
	t.Helper()
	created = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return created, &request.ResetRequest{
		AccountName:       "etagliav",
		SecretCode:        "s3cr3t-c0de",
		Duration:          48,
		Active:            true,
		CreationTimestamp: created,
	}
}

func TestStoreInsert(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, rr := newFixture(t)
		mock.ExpectExec(`INSERT INTO reset_requests`).
			WithArgs(pgxmock.AnyArg(), rr.AccountName, rr.SecretCode, rr.Duration, rr.Active, rr.CreationTimestamp).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		store := New(mock, false)
		require.NoError(t, store.Insert(context.Background(), rr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, rr := newFixture(t)
		mock.ExpectExec(`INSERT INTO reset_requests`).
			WithArgs(pgxmock.AnyArg(), rr.AccountName, rr.SecretCode, rr.Duration, rr.Active, rr.CreationTimestamp).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		store := New(mock, false)
		err = store.Insert(context.Background(), rr)
		assert.ErrorIs(t, err, request.ErrDuplicateSecret)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dry run rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, rr := newFixture(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO reset_requests`).
			WithArgs(pgxmock.AnyArg(), rr.AccountName, rr.SecretCode, rr.Duration, rr.Active, rr.CreationTimestamp).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectRollback()

		store := New(mock, true)
		require.NoError(t, store.Insert(context.Background(), rr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreGetBySecret(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		created, want := newFixture(t)
		rows := pgxmock.NewRows([]string{"account_name", "secret_code", "duration_hours", "active", "created_at"}).
			AddRow(want.AccountName, want.SecretCode, int32(want.Duration), want.Active, created)
		mock.ExpectQuery(`SELECT .+ FROM reset_requests\s+WHERE secret_code`).
			WithArgs(want.SecretCode).
			WillReturnRows(rows)

		store := New(mock, false)
		got, err := store.GetBySecret(context.Background(), want.SecretCode)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows([]string{"account_name", "secret_code", "duration_hours", "active", "created_at"})
		mock.ExpectQuery(`SELECT .+ FROM reset_requests\s+WHERE secret_code`).
			WithArgs("missing").
			WillReturnRows(rows)

		store := New(mock, false)
		_, err = store.GetBySecret(context.Background(), "missing")
		assert.ErrorIs(t, err, request.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreList(t *testing.T) {
	t.Run("with limit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		created, want := newFixture(t)
		rows := pgxmock.NewRows([]string{"account_name", "secret_code", "duration_hours", "active", "created_at"}).
			AddRow(want.AccountName, want.SecretCode, int32(want.Duration), want.Active, created).
			AddRow("jdoe", "other-code", int32(24), false, created.Add(time.Hour))
		mock.ExpectQuery(`SELECT .+ FROM reset_requests\s+ORDER BY created_at.+LIMIT`).
			WithArgs(int64(10)).
			WillReturnRows(rows)

		store := New(mock, false)
		got, err := store.List(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, want, got[0])
		assert.Equal(t, "jdoe", got[1].AccountName)
		assert.False(t, got[1].Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unlimited", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows([]string{"account_name", "secret_code", "duration_hours", "active", "created_at"})
		mock.ExpectQuery(`SELECT .+ FROM reset_requests\s+ORDER BY created_at`).
			WillReturnRows(rows)

		store := New(mock, false)
		got, err := store.List(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreUpdateFieldBySecret(t *testing.T) {
	t.Run("updates one row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active`).
			WithArgs(false, "s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		store := New(mock, false)
		n, err := store.UpdateFieldBySecret(context.Background(), "s3cr3t-c0de", request.FieldActive, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("value already correct counts as one", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active`).
			WithArgs(true, "s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT active FROM reset_requests WHERE secret_code`).
			WithArgs("s3cr3t-c0de").
			WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(true))

		store := New(mock, false)
		n, err := store.UpdateFieldBySecret(context.Background(), "s3cr3t-c0de", request.FieldActive, true)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing secret", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET duration_hours`).
			WithArgs(uint32(24), "missing").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT duration_hours FROM reset_requests WHERE secret_code`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		store := New(mock, false)
		_, err = store.UpdateFieldBySecret(context.Background(), "missing", request.FieldDuration, uint32(24))
		assert.ErrorIs(t, err, request.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("multiple rows means corruption", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active`).
			WithArgs(false, "s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))

		store := New(mock, false)
		_, err = store.UpdateFieldBySecret(context.Background(), "s3cr3t-c0de", request.FieldActive, false)
		assert.ErrorIs(t, err, request.ErrCorrupted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown field is rejected before SQL", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := New(mock, false)
		_, err = store.UpdateFieldBySecret(context.Background(), "s3cr3t-c0de", "account_name; DROP TABLE", "x")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStoreConsume(t *testing.T) {
	t.Run("winner", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active = FALSE WHERE secret_code .+ AND active = TRUE`).
			WithArgs("s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		store := New(mock, false)
		won, err := store.Consume(context.Background(), "s3cr3t-c0de")
		require.NoError(t, err)
		assert.True(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already consumed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active = FALSE`).
			WithArgs("s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		store := New(mock, false)
		won, err := store.Consume(context.Background(), "s3cr3t-c0de")
		require.NoError(t, err)
		assert.False(t, won)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("multiple rows means corruption", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE reset_requests SET active = FALSE`).
			WithArgs("s3cr3t-c0de").
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))

		store := New(mock, false)
		_, err = store.Consume(context.Background(), "s3cr3t-c0de")
		assert.ErrorIs(t, err, request.ErrCorrupted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
