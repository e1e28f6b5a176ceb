// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package protocol

import (
	"github.com/resetd/resetd/internal/request"
)

// Command is one decoded protocol request.
type Command interface {
	Verb() string
}

// TargetKind selects how a CreateRequest names the account.
type TargetKind string

const (
	TargetUsername TargetKind = "username"
	TargetEmail    TargetKind = "email"
)

// Target identifies the account a reset request is created for, either by
// directory username or by mail address.
type Target struct {
	Kind  TargetKind
	Value string
}

// CreateRequest asks the daemon to open a new reset request.
type CreateRequest struct {
	Target   Target
	Secret   string // AutogenerateSecret or a caller-chosen literal
	Duration uint32 // hours
	Enabled  bool
}

func (CreateRequest) Verb() string { return VerbCreateRequest }

// ListRequests asks for up to Limit stored requests.
type ListRequests struct {
	Limit uint32
}

func (ListRequests) Verb() string { return VerbListRequests }

// ResetPassword consumes a secret to change an account password.
type ResetPassword struct {
	Username    string
	Secret      string
	NewPassword []byte
}

func (ResetPassword) Verb() string { return VerbResetPassword }

// EnableRequest re-activates the request holding Secret.
type EnableRequest struct {
	Secret string
}

func (EnableRequest) Verb() string { return VerbEnableRequest }

// DisableRequest deactivates the request holding Secret.
type DisableRequest struct {
	Secret string
}

func (DisableRequest) Verb() string { return VerbDisableRequest }

// SendEmail asks the daemon to mail the secrets' owners. MessageType is a
// case-normalized template tag.
type SendEmail struct {
	MessageType string
	Secrets     []string
}

func (SendEmail) Verb() string { return VerbSendEmail }

// TestProtocol is a session probe; Raw carries the unparsed argument text.
type TestProtocol struct {
	Raw string
}

func (TestProtocol) Verb() string { return VerbTestProtocol }

// Terminate signals the end of the session; no answer is expected.
type Terminate struct{}

func (Terminate) Verb() string { return VerbTerminate }

// RequestState is the answer payload of ENABLEREQUEST/DISABLEREQUEST.
type RequestState struct {
	Secret string
	Active bool
}

// EmailResult is the answer payload of SENDEMAIL: secrets whose mail went
// out and secrets whose mail did not.
type EmailResult struct {
	OK     []string
	Failed []string
}

// Answer is one decoded protocol answer. Exactly one payload field is
// populated, matching the verb and status the answer was decoded for;
// Text holds the generic status-plus-text form.
type Answer struct {
	Status   Status
	Text     string
	Requests []*request.ResetRequest
	State    *RequestState
	Email    *EmailResult
}
