// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package postgres provides the PostgreSQL implementation of the reset
// request store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/resetd/resetd/internal/request"
)

// poolIface is the subset of pgxpool.Pool the store uses. pgxmock
// implements it for unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements request.Store using PostgreSQL.
type Store struct {
	pool   poolIface
	dryRun bool
}

var _ request.Store = (*Store)(nil)

// connectAttempts bounds the startup retry loop. Postgres coming up in
// parallel (container orchestration) is the case this covers.
const connectAttempts = 5

// Connect opens a pool against dsn, pinging with exponential backoff
// until the database answers, and returns a live store.
func Connect(ctx context.Context, dsn string, dryRun bool) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}

	return New(pool, dryRun), nil
}

// New builds a store over an existing pool. With dryRun set, every
// mutation runs inside a transaction that is rolled back after its
// effect has been verified, so the database is never changed.
func New(pool poolIface, dryRun bool) *Store {
	return &Store{pool: pool, dryRun: dryRun}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// execer covers both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mutate runs fn against the pool, or inside a rolled-back transaction
// in dry-run mode. fn must do its own read-back checks so dry-run
// results match what a real run would have reported.
func (s *Store) mutate(ctx context.Context, fn func(q execer) error) error {
	if !s.dryRun {
		return fn(s.pool)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_TX_FAILED").With("operation", "begin dry-run tx").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(tx)
}

// Insert stores a new reset request. A colliding secret code maps to
// request.ErrDuplicateSecret.
func (s *Store) Insert(ctx context.Context, rr *request.ResetRequest) error {
	return s.mutate(ctx, func(q execer) error {
		_, err := q.Exec(ctx, `
			INSERT INTO reset_requests (id, account_name, secret_code, duration_hours, active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ulid.Make().String(), rr.AccountName, rr.SecretCode, rr.Duration, rr.Active, rr.CreationTimestamp)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
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
	row := s.pool.QueryRow(ctx, `
		SELECT account_name, secret_code, duration_hours, active, created_at
		FROM reset_requests
		WHERE secret_code = $1
	`, secret)

	rr, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	sql := `
		SELECT account_name, secret_code, duration_hours, active, created_at
		FROM reset_requests
		ORDER BY created_at, id
	`
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, sql+` LIMIT $1`, int64(limit))
	} else {
		rows, err = s.pool.Query(ctx, sql)
	}
	if err != nil {
		return nil, oops.Code("STORE_LIST_FAILED").With("operation", "query reset_requests").Wrap(err)
	}
	defer rows.Close()

	var out []*request.ResetRequest
	for rows.Next() {
		rr, err := scanRequest(rows)
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
// When the update touches nothing but a read-back shows the stored value
// already equals the requested one, it reports 1: the caller asked for a
// state and the state holds.
func (s *Store) UpdateFieldBySecret(ctx context.Context, secret, field string, value any) (int64, error) {
	column, err := columnFor(field)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = s.mutate(ctx, func(q execer) error {
		tag, err := q.Exec(ctx,
			`UPDATE reset_requests SET `+column+` = $1 WHERE secret_code = $2 AND `+column+` <> $1`,
			value, secret)
		if err != nil {
			return oops.Code("STORE_UPDATE_FAILED").
				With("operation", "update reset_request").
				With("field", field).
				Wrap(err)
		}
		affected = tag.RowsAffected()
		if affected > 1 {
			return oops.With("field", field).With("rows", affected).Wrap(request.ErrCorrupted)
		}
		if affected == 1 {
			return nil
		}

		var current any
		err = q.QueryRow(ctx,
			`SELECT `+column+` FROM reset_requests WHERE secret_code = $1`,
			secret).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Wrap(request.ErrNotFound)
		}
		if err != nil {
			return oops.Code("STORE_UPDATE_FAILED").
				With("operation", "read back reset_request").
				With("field", field).
				Wrap(err)
		}
		if valueEqual(current, value) {
			affected = 1
		}
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
		tag, err := q.Exec(ctx,
			`UPDATE reset_requests SET active = FALSE WHERE secret_code = $1 AND active = TRUE`,
			secret)
		if err != nil {
			return oops.Code("STORE_CONSUME_FAILED").With("operation", "consume reset_request").Wrap(err)
		}
		switch n := tag.RowsAffected(); {
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

// columnFor maps the store field names onto columns. Anything outside
// the closed set is rejected before it can reach SQL.
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

func valueEqual(current, requested any) bool {
	switch cur := current.(type) {
	case bool:
		req, ok := requested.(bool)
		return ok && cur == req
	case int32:
		return int64Of(requested) == int64(cur)
	case int64:
		return int64Of(requested) == cur
	default:
		return false
	}
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	default:
		return -1
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*request.ResetRequest, error) {
	var (
		rr       request.ResetRequest
		duration int32
		created  time.Time
	)
	if err := row.Scan(&rr.AccountName, &rr.SecretCode, &duration, &rr.Active, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("STORE_SCAN_FAILED").With("operation", "scan reset_request").Wrap(err)
	}
	rr.Duration = uint32(duration)
	rr.CreationTimestamp = created.UTC()
	return &rr, nil
}
