// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package service

import (
	"errors"
	"fmt"

	"github.com/resetd/resetd/internal/protocol"
)

// BusinessError is a rejection of a well-formed command. It carries two
// messages: Reason is the internal diagnostic for logs, Client is the
// only string that may reach the wire. The split keeps account
// enumeration hints (unknown secret vs. username mismatch vs. inactive
// request) out of client answers.
type BusinessError struct {
	// Status is the answer status to send, StatusNak unless set.
	Status protocol.Status

	// Client is the client-safe answer text.
	Client string

	// Reason is the internal diagnostic.
	Reason string
}

func (e *BusinessError) Error() string {
	if e.Reason == "" {
		return e.Client
	}
	return e.Reason
}

// AnswerStatus returns the status for the answer carrying this error.
func (e *BusinessError) AnswerStatus() protocol.Status {
	if e.Status == "" {
		return protocol.StatusNak
	}
	return e.Status
}

// reject builds a NAK BusinessError with a formatted internal reason.
func reject(client, format string, args ...any) *BusinessError {
	return &BusinessError{Client: client, Reason: fmt.Sprintf(format, args...)}
}

// AsBusiness unwraps err into a BusinessError if one is in the chain.
func AsBusiness(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
