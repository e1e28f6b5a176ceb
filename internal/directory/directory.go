// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package directory abstracts the account backend that owns usernames,
// email addresses, and passwords. Reset tickets are validated against it
// and consumed by writing the new password through it.
package directory

import (
	"context"
	"strings"

	"github.com/samber/oops"
)

// Lookup attribute names. These follow the usual LDAP schema so a real
// backend can pass them through unchanged.
const (
	AttrUsername = "uid"
	AttrEmail    = "mail"
)

// ErrNoSuchAccount is returned when a lookup matches no account.
var ErrNoSuchAccount = oops.Code("DIR_NO_SUCH_ACCOUNT").Errorf("no such account")

// ErrInconsistent is returned when a lookup that must identify a single
// account matches more than one. This points at corrupt directory data
// and callers must treat it as fatal rather than answer the client.
var ErrInconsistent = oops.Code("DIR_INCONSISTENT").Errorf("directory inconsistency: multiple accounts matched")

// Account is the directory's view of one user.
type Account struct {
	// Name is the canonical account name (the uid attribute).
	Name string

	// Email is the primary mail address, empty when the backend does
	// not carry one.
	Email string

	// DisplayName is the human-readable name, empty when the backend
	// does not carry one.
	DisplayName string
}

// PersonalWords returns the words a password for this account must not
// resemble: the account name, the local part of the mail address, and
// each word of the display name.
func (a Account) PersonalWords() []string {
	var words []string
	if a.Name != "" {
		words = append(words, a.Name)
	}
	if local, _, found := strings.Cut(a.Email, "@"); found && local != "" {
		words = append(words, local)
	}
	words = append(words, strings.Fields(a.DisplayName)...)
	return words
}

// Directory is the pluggable account backend. Implementations must be
// safe for concurrent use.
type Directory interface {
	// LookupByAttribute resolves the single account whose attribute
	// equals value. It returns ErrNoSuchAccount when nothing matches
	// and ErrInconsistent when more than one account does.
	LookupByAttribute(ctx context.Context, attr, value string) (Account, error)

	// LookupAllByAttribute resolves every account whose attribute
	// equals value, or ErrNoSuchAccount when nothing matches. Mail
	// addresses may legitimately belong to several accounts.
	LookupAllByAttribute(ctx context.Context, attr, value string) ([]Account, error)

	// ChangePassword sets the account's password. The account must
	// already exist.
	ChangePassword(ctx context.Context, name string, password []byte) error
}
