// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package request

import (
	"context"
	"errors"
)

// Store errors. ErrCorrupted is fatal for the whole process: a store whose
// uniqueness invariant no longer holds cannot be served against safely.
var (
	ErrNotFound        = errors.New("reset request not found")
	ErrDuplicateSecret = errors.New("secret code already exists")
	ErrCorrupted       = errors.New("store corrupted: secret code is not unique")
)

// Updatable field names accepted by UpdateFieldBySecret. Backends map them
// to their own column names; any other name is rejected.
const (
	FieldActive   = "active"
	FieldDuration = "duration"
)

// Store is the persistence contract for reset requests. Implementations
// must be safe for concurrent use by many connection workers.
//
// In dry-run mode (a construction-time toggle, not a separate code path)
// every mutation happens inside a transaction that is rolled back instead
// of committed, including any read-back check the operation performs.
type Store interface {
	// Insert stores a new request. A secret code already present in the
	// store fails with ErrDuplicateSecret.
	Insert(ctx context.Context, r *ResetRequest) error

	// GetBySecret returns the request holding secret, or ErrNotFound.
	// More than one matching row is ErrCorrupted.
	GetBySecret(ctx context.Context, secret string) (*ResetRequest, error)

	// List returns stored requests oldest first, up to limit. A zero
	// limit returns everything.
	List(ctx context.Context, limit uint32) ([]*ResetRequest, error)

	// UpdateFieldBySecret sets one whitelisted field and returns the number
	// of rows affected. Setting a field to the value it already holds is
	// success: if zero rows changed but a row with that secret holds the
	// requested value, one row is reported.
	UpdateFieldBySecret(ctx context.Context, secret, field string, value any) (int64, error)

	// Consume atomically deactivates an active request. It returns true
	// iff this call made the transition; of any number of concurrent
	// attempts on the same secret, exactly one observes true.
	Consume(ctx context.Context, secret string) (bool, error)

	// Close releases the backend connection.
	Close() error
}
