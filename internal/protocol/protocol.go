// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package protocol implements the command/answer codec spoken between the
// daemon and its clients on top of the framed transport.
//
// A request payload is `VERB arg1 arg2 ... argN` with space-separated
// tokens; binary or opaque tokens travel as base64 text or fixed binary
// records. An answer payload is `STATUS verb-specific-payload`. The verb
// set is closed: both halves of the codec dispatch over a fixed table.
package protocol

import (
	"errors"

	"github.com/resetd/resetd/internal/wire"
)

// Answer status vocabulary.
type Status string

const (
	StatusAck        Status = "ACK"
	StatusNak        Status = "NAK"
	StatusBadRequest Status = "BADREQUEST"
	StatusError      Status = "ERROR"
)

// Valid reports whether s belongs to the fixed four-value vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusAck, StatusNak, StatusBadRequest, StatusError:
		return true
	}
	return false
}

// Protocol verbs.
const (
	VerbCreateRequest  = "CREATEREQUEST"
	VerbListRequests   = "LISTREQUESTS"
	VerbResetPassword  = "RESETPW"
	VerbEnableRequest  = "ENABLEREQUEST"
	VerbDisableRequest = "DISABLEREQUEST"
	VerbSendEmail      = "SENDEMAIL"
	VerbTestProtocol   = "TESTPROTOCOL"
	VerbTerminate      = "KTHXBYE"
)

// AutogenerateSecret is the literal secret argument asking the daemon to
// mint the secret itself.
const AutogenerateSecret = "autogenerate"

// allowedStatus maps each verb to the statuses its specialized answer
// encoding handles. Any other status falls back to the generic
// status-plus-text encoding.
var allowedStatus = map[string][]Status{
	VerbCreateRequest:  nil,
	VerbListRequests:   {StatusAck},
	VerbResetPassword:  nil,
	VerbEnableRequest:  {StatusAck},
	VerbDisableRequest: {StatusAck},
	VerbSendEmail:      {StatusAck, StatusNak},
	VerbTestProtocol:   nil,
	VerbTerminate:      nil,
}

// KnownVerb reports whether verb is part of the protocol.
func KnownVerb(verb string) bool {
	_, ok := allowedStatus[verb]
	return ok
}

func statusAllowed(verb string, status Status) bool {
	for _, s := range allowedStatus[verb] {
		if s == status {
			return true
		}
	}
	return false
}

// ProtocolError is fatal for the connection: no answer may be sent and the
// connection must be torn down. Malformed frames, unknown verbs and
// header-level corruption land here.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

// BadRequestError is answerable: the framing was fine but the command-level
// content was not (bad base64, wrong argument count, malformed binary
// record, forbidden characters). The connection stays open and the message
// is sent back with a BADREQUEST status.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// BadAnswerError is the client-side condition for a missing or malformed
// answer. Raw carries the answer bytes for diagnostics; it is never
// silently coerced into something parseable.
type BadAnswerError struct {
	Msg string
	Raw []byte
}

func (e *BadAnswerError) Error() string { return e.Msg }

// IsFatal reports whether err requires tearing down the connection without
// an answer, per the protocol error taxonomy.
func IsFatal(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) || errors.Is(err, wire.ErrFraming)
}
