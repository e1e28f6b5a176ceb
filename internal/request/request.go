// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package request defines the persisted password-reset ticket and the
// narrow store contract any backend must satisfy.
package request

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// trailerSize is the fixed binary record appended to the packed text part:
// duration (uint32), active (bool), creation time (uint64 Unix seconds),
// little-endian throughout.
const trailerSize = 4 + 1 + 8

// DefaultDuration is the validity window, in hours, applied when a caller
// does not choose one.
const DefaultDuration = 48

// ResetRequest is one pending password-reset workflow instance. The secret
// code is globally unique and single-use: consuming it for a password
// change is a terminal transition.
type ResetRequest struct {
	AccountName       string
	SecretCode        string
	Duration          uint32 // hours
	Active            bool
	CreationTimestamp time.Time // UTC, second precision
}

// New validates the text fields and returns a request created now.
// Account name and secret must be non-empty and free of NUL bytes, since
// NUL separates them in the packed form.
func New(accountName, secretCode string, duration uint32, active bool) (*ResetRequest, error) {
	if accountName == "" || secretCode == "" {
		return nil, fmt.Errorf("request: account name and secret code must not be empty")
	}
	if strings.ContainsRune(accountName, 0) || strings.ContainsRune(secretCode, 0) {
		return nil, fmt.Errorf("request: account name and secret code must not contain NUL")
	}
	return &ResetRequest{
		AccountName:       accountName,
		SecretCode:        secretCode,
		Duration:          duration,
		Active:            active,
		CreationTimestamp: time.Now().UTC().Truncate(time.Second),
	}, nil
}

// Pack emits the request's wire form: account name, NUL, secret code,
// followed by the fixed trailing record.
func (r *ResetRequest) Pack() []byte {
	buf := make([]byte, 0, len(r.AccountName)+1+len(r.SecretCode)+trailerSize)
	buf = append(buf, r.AccountName...)
	buf = append(buf, 0)
	buf = append(buf, r.SecretCode...)
	buf = binary.LittleEndian.AppendUint32(buf, r.Duration)
	if r.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CreationTimestamp.Unix()))
	return buf
}

// Unpack is the exact inverse of Pack. The leading text must split on
// exactly one NUL into two non-empty parts; anything else is a parse
// failure.
func Unpack(data []byte) (*ResetRequest, error) {
	if len(data) <= trailerSize {
		return nil, fmt.Errorf("request: packed record too short: %d bytes", len(data))
	}
	text, trailer := data[:len(data)-trailerSize], data[len(data)-trailerSize:]

	parts := bytes.Split(text, []byte{0})
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return nil, fmt.Errorf("request: malformed name/secret section: want exactly one NUL separator")
	}

	return &ResetRequest{
		AccountName:       string(parts[0]),
		SecretCode:        string(parts[1]),
		Duration:          binary.LittleEndian.Uint32(trailer[0:4]),
		Active:            trailer[4] != 0,
		CreationTimestamp: time.Unix(int64(binary.LittleEndian.Uint64(trailer[5:13])), 0).UTC(),
	}, nil
}

// ExpiryDate returns the instant the request stops being honored.
func (r *ResetRequest) ExpiryDate() time.Time {
	return r.CreationTimestamp.Add(time.Duration(r.Duration) * time.Hour)
}

// Expired reports whether now (UTC) is at or past the expiry date.
func (r *ResetRequest) Expired() bool {
	return !time.Now().UTC().Before(r.ExpiryDate())
}

func (r *ResetRequest) String() string {
	return fmt.Sprintf("%s\t%s\t%s\t%d\t%t",
		r.AccountName, r.SecretCode,
		r.CreationTimestamp.Format("2006-01-02 15:04:05"),
		r.Duration, r.Active)
}
