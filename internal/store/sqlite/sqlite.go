// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package sqlite provides the embedded single-host implementation of
// the reset request store. It needs no external database and is the
// default backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/resetd/resetd/internal/request"
)

const schema = `
CREATE TABLE IF NOT EXISTS reset_requests (
	id             TEXT    PRIMARY KEY,
	account_name   TEXT    NOT NULL,
	secret_code    TEXT    NOT NULL UNIQUE,
	duration_hours INTEGER NOT NULL CHECK (duration_hours > 0),
	active         INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reset_requests_account_name_idx ON reset_requests (account_name);
`

// Store implements request.Store using an embedded SQLite database.
type Store struct {
	db     *sql.DB
	dryRun bool
}

var _ request.Store = (*Store)(nil)

// Open creates or opens the database at path and ensures the schema
// exists. Use ":memory:" for a throwaway in-process database. With
// dryRun set, mutations run in transactions that are rolled back.
func Open(ctx context.Context, path string, dryRun bool) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("path", path).Wrap(err)
	}
	// SQLite allows one writer; a single connection sidesteps lock
	// contention and keeps in-memory databases on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("STORE_SCHEMA_FAILED").With("path", path).Wrap(err)
	}

	return &Store{db: db, dryRun: dryRun}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) mutate(ctx context.Context, fn func(q execer) error) error {
	if !s.dryRun {
		return fn(s.db)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("STORE_TX_FAILED").With("operation", "begin dry-run tx").Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}

// Insert stores a new reset request. A colliding secret code maps to
// request.ErrDuplicateSecret.
func (s *Store) Insert(ctx context.Context, rr *request.ResetRequest) error {
	return s.mutate(ctx, func(q execer) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO reset_requests (id, account_name, secret_code, duration_hours, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ulid.Make().String(), rr.AccountName, rr.SecretCode, rr.Duration, rr.Active, rr.CreationTimestamp.Unix())
		if err != nil {
			if isUniqueViolation(err) {
				return oops.With("account", rr.AccountName).Wrap(request.ErrDuplicateSecret)
			}
			return oops.Code("STORE_INSERT_FAILED").
				With("operation", "insert reset_request").
				With("account", rr.AccountName).
				Wrap(err)
		}
		return nil
	})
}

// GetBySecret retrieves the request identified by the secret code.
func (s *Store) GetBySecret(ctx context.Context, secret string) (*request.ResetRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_name, secret_code, duration_hours, active, created_at
		FROM reset_requests
		WHERE secret_code = ?
	`, secret)

	rr, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Wrap(request.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// List returns stored requests ordered oldest first, capped at limit.
// A zero limit returns everything.
func (s *Store) List(ctx context.Context, limit uint32) ([]*request.ResetRequest, error) {
	query := `
		SELECT account_name, secret_code, duration_hours, active, created_at
		FROM reset_requests
		ORDER BY created_at, id
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, int64(limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.Code("STORE_LIST_FAILED").With("operation", "query reset_requests").Wrap(err)
	}
	defer rows.Close()

	var out []*request.ResetRequest
	for rows.Next() {
		rr, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("STORE_LIST_FAILED").With("operation", "iterate reset_requests").Wrap(err)
	}
	return out, nil
}

// UpdateFieldBySecret sets one mutable field of the request identified
// by secret and returns the number of requests now carrying the value.
// A no-op update whose read-back shows the value already in place
// reports 1.
func (s *Store) UpdateFieldBySecret(ctx context.Context, secret, field string, value any) (int64, error) {
	column, err := columnFor(field)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = s.mutate(ctx, func(q execer) error {
		res, err := q.ExecContext(ctx,
			`UPDATE reset_requests SET `+column+` = ? WHERE secret_code = ? AND `+column+` <> ?`,
			value, secret, value)
		if err != nil {
			return oops.Code("STORE_UPDATE_FAILED").
				With("operation", "update reset_request").
				With("field", field).
				Wrap(err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return oops.Code("STORE_UPDATE_FAILED").With("operation", "rows affected").Wrap(err)
		}
		if affected > 1 {
			return oops.With("field", field).With("rows", affected).Wrap(request.ErrCorrupted)
		}
		if affected == 1 {
			return nil
		}

		var matched int64
		err = q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM reset_requests WHERE secret_code = ? AND `+column+` = ?`,
			secret, value).Scan(&matched)
		if err != nil {
			return oops.Code("STORE_UPDATE_FAILED").
				With("operation", "read back reset_request").
				With("field", field).
				Wrap(err)
		}
		if matched == 0 {
			var exists int64
			err = q.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM reset_requests WHERE secret_code = ?`,
				secret).Scan(&exists)
			if err != nil {
				return oops.Code("STORE_UPDATE_FAILED").With("operation", "existence check").Wrap(err)
			}
			if exists == 0 {
				return oops.Wrap(request.ErrNotFound)
			}
			return nil
		}
		affected = 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Consume atomically deactivates an active request. Exactly one caller
// wins; everyone else gets false.
func (s *Store) Consume(ctx context.Context, secret string) (bool, error) {
	var won bool
	err := s.mutate(ctx, func(q execer) error {
		res, err := q.ExecContext(ctx,
			`UPDATE reset_requests SET active = 0 WHERE secret_code = ? AND active <> 0`,
			secret)
		if err != nil {
			return oops.Code("STORE_CONSUME_FAILED").With("operation", "consume reset_request").Wrap(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return oops.Code("STORE_CONSUME_FAILED").With("operation", "rows affected").Wrap(err)
		}
		switch {
		case n > 1:
			return oops.With("rows", n).Wrap(request.ErrCorrupted)
		case n == 1:
			won = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func columnFor(field string) (string, error) {
	switch field {
	case request.FieldActive:
		return "active", nil
	case request.FieldDuration:
		return "duration_hours", nil
	default:
		return "", oops.Code("STORE_BAD_FIELD").Errorf("unknown field %q", field)
	}
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func scanRequest(scan func(dest ...any) error) (*request.ResetRequest, error) {
	var (
		rr       request.ResetRequest
		duration int64
		created  int64
	)
	if err := scan(&rr.AccountName, &rr.SecretCode, &duration, &rr.Active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("STORE_SCAN_FAILED").With("operation", "scan reset_request").Wrap(err)
	}
	rr.Duration = uint32(duration)
	rr.CreationTimestamp = time.Unix(created, 0).UTC()
	return &rr, nil
}
