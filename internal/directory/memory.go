// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Memory is an in-process Directory backed by a map. It is the backend
// for single-host deployments and for tests. The underlying map is not
// safe for concurrent access, so all operations serialize on one mutex,
// the same discipline a shared LDAP connection handle would need.
type Memory struct {
	mu       sync.Mutex
	hasher   PasswordHasher
	accounts map[string]*memoryAccount
}

type memoryAccount struct {
	account      Account
	passwordHash string
}

// NewMemory builds an empty in-memory directory. A nil hasher gets the
// argon2id default.
func NewMemory(hasher PasswordHasher) *Memory {
	if hasher == nil {
		hasher = NewArgon2idHasher()
	}
	return &Memory{
		hasher:   hasher,
		accounts: make(map[string]*memoryAccount),
	}
}

var _ Directory = (*Memory)(nil)

// AddAccount registers an account keyed by acct.Name. It overwrites an
// existing account of the same name.
func (m *Memory) AddAccount(acct Account, password []byte) error {
	if acct.Name == "" {
		return oops.Code("DIR_BAD_ACCOUNT").Errorf("account name must not be empty")
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return oops.With("account", acct.Name).Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.Name] = &memoryAccount{account: acct, passwordHash: hash}
	return nil
}

// LookupByAttribute implements Directory.
func (m *Memory) LookupByAttribute(ctx context.Context, attr, value string) (Account, error) {
	matches, err := m.LookupAllByAttribute(ctx, attr, value)
	if err != nil {
		return Account{}, err
	}
	if len(matches) > 1 {
		return Account{}, oops.With("attribute", attr).With("value", value).
			With("matches", len(matches)).
			Wrap(ErrInconsistent)
	}
	return matches[0], nil
}

// LookupAllByAttribute implements Directory.
func (m *Memory) LookupAllByAttribute(_ context.Context, attr, value string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Account
	for name, entry := range m.accounts {
		var got string
		switch attr {
		case AttrUsername:
			got = name
		case AttrEmail:
			got = entry.account.Email
		default:
			return nil, oops.Code("DIR_BAD_ATTRIBUTE").
				With("attribute", attr).
				Errorf("unknown lookup attribute %q", attr)
		}
		if got == value {
			matches = append(matches, entry.account)
		}
	}

	if len(matches) == 0 {
		return nil, oops.With("attribute", attr).With("value", value).Wrap(ErrNoSuchAccount)
	}
	// map iteration order is random, callers expect stable results
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches, nil
}

// ChangePassword implements Directory.
func (m *Memory) ChangePassword(_ context.Context, name string, password []byte) error {
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return oops.With("account", name).Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.accounts[name]
	if !ok {
		return oops.With("account", name).Wrap(ErrNoSuchAccount)
	}
	entry.passwordHash = hash
	return nil
}

// VerifyPassword reports whether the password matches the stored hash.
func (m *Memory) VerifyPassword(name string, password []byte) (bool, error) {
	m.mu.Lock()
	entry, ok := m.accounts[name]
	m.mu.Unlock()
	if !ok {
		return false, oops.With("account", name).Wrap(ErrNoSuchAccount)
	}
	return m.hasher.Verify(password, entry.passwordHash)
}
