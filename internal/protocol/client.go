// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/resetd/resetd/internal/request"
	"github.com/resetd/resetd/internal/wire"
)

// WriteRequest encodes cmd and sends it framed on w.
func WriteRequest(w io.Writer, f wire.Framer, cmd Command) error {
	payload, err := EncodeRequest(cmd)
	if err != nil {
		return err
	}
	return f.Send(w, payload)
}

// EncodeRequest builds the request payload for a typed command, mirroring
// the server-side argument rules verb by verb.
func EncodeRequest(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case CreateRequest:
		var first string
		switch c.Target.Kind {
		case TargetUsername:
			if c.Target.Value == "" {
				return nil, fmt.Errorf("protocol: encode %s: empty username", c.Verb())
			}
			first = "username=" + c.Target.Value
		case TargetEmail:
			first = "email=" + base64.StdEncoding.EncodeToString([]byte(c.Target.Value))
		default:
			return nil, fmt.Errorf("protocol: encode %s: unknown target kind %q", c.Verb(), c.Target.Kind)
		}
		trailer := make([]byte, 0, createTrailerSize)
		trailer = binary.LittleEndian.AppendUint32(trailer, c.Duration)
		if c.Enabled {
			trailer = append(trailer, 1)
		} else {
			trailer = append(trailer, 0)
		}
		payload := []byte(VerbCreateRequest + " " + first + " " + c.Secret + " ")
		return append(payload, trailer...), nil

	case ListRequests:
		payload := []byte(VerbListRequests + " ")
		return binary.LittleEndian.AppendUint32(payload, c.Limit), nil

	case ResetPassword:
		return []byte(fmt.Sprintf("%s %s %s %s", VerbResetPassword,
			c.Username, c.Secret, base64.StdEncoding.EncodeToString(c.NewPassword))), nil

	case EnableRequest:
		return []byte(VerbEnableRequest + " " + c.Secret), nil

	case DisableRequest:
		return []byte(VerbDisableRequest + " " + c.Secret), nil

	case SendEmail:
		if len(c.Secrets) == 0 {
			return nil, fmt.Errorf("protocol: encode %s: no secrets given", c.Verb())
		}
		tokens := append([]string{VerbSendEmail, strings.ToUpper(c.MessageType)}, c.Secrets...)
		return []byte(strings.Join(tokens, " ")), nil

	case TestProtocol:
		if c.Raw == "" {
			return []byte(VerbTestProtocol), nil
		}
		return []byte(VerbTestProtocol + " " + c.Raw), nil

	case Terminate:
		return []byte(VerbTerminate), nil
	}
	return nil, fmt.Errorf("protocol: encode request: unknown command %T", cmd)
}

// ReadAnswer reads one framed answer for verb from r and decodes it.
func ReadAnswer(r io.Reader, f wire.Framer, verb string) (*Answer, error) {
	payload, err := f.Receive(r)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, &BadAnswerError{Msg: "empty answer"}
	}
	return DecodeAnswer(verb, payload)
}

// DecodeAnswer parses an answer payload for the verb the request carried.
// The status token must belong to the four-value vocabulary; a status
// outside the verb's allowed set parses as the generic form.
func DecodeAnswer(verb string, payload []byte) (*Answer, error) {
	if !KnownVerb(verb) {
		return nil, fmt.Errorf("protocol: decode answer: unknown verb %q", verb)
	}

	var status Status
	var rest []byte
	if idx := bytes.IndexByte(payload, ' '); idx >= 0 {
		status, rest = Status(payload[:idx]), payload[idx+1:]
	} else {
		status = Status(strings.TrimSpace(string(payload)))
	}
	if !status.Valid() {
		return nil, &BadAnswerError{Msg: fmt.Sprintf("unknown status %q", status), Raw: payload}
	}

	if !statusAllowed(verb, status) {
		return &Answer{Status: status, Text: string(rest)}, nil
	}

	answer := &Answer{Status: status}
	var err error
	switch verb {
	case VerbListRequests:
		answer.Requests, err = parseListAnswer(rest)
	case VerbEnableRequest, VerbDisableRequest:
		answer.State, err = parseStateAnswer(rest)
	case VerbSendEmail:
		answer.Email, err = parseEmailAnswer(rest)
	default:
		answer.Text = string(rest)
	}
	if err != nil {
		if bad, ok := err.(*BadAnswerError); ok {
			return nil, &BadAnswerError{Msg: bad.Msg, Raw: payload}
		}
		return nil, err
	}
	return answer, nil
}

func parseListAnswer(data []byte) ([]*request.ResetRequest, error) {
	count, err := answerUint(data, 0)
	if err != nil {
		return nil, err
	}
	headerLen := (int(count) + 1) * 4
	if len(data) < headerLen {
		return nil, &BadAnswerError{Msg: fmt.Sprintf("offset table truncated: %d entries, %d bytes", count, len(data))}
	}

	records := data[headerLen:]
	reqs := make([]*request.ResetRequest, 0, count)
	prev := uint32(0)
	for i := uint32(1); i <= count; i++ {
		off, err := answerUint(data, int(i))
		if err != nil {
			return nil, err
		}
		if off < prev || off > uint32(len(records)) {
			return nil, &BadAnswerError{Msg: fmt.Sprintf("invalid record offset %d at position %d", off, i)}
		}
		r, err := request.Unpack(records[prev:off])
		if err != nil {
			return nil, &BadAnswerError{Msg: fmt.Sprintf("record %d: %v", i, err)}
		}
		reqs = append(reqs, r)
		prev = off
	}
	return reqs, nil
}

func answerUint(data []byte, pos int) (uint32, error) {
	if len(data) < (pos+1)*4 {
		return 0, &BadAnswerError{Msg: fmt.Sprintf("invalid integer at position %d", pos)}
	}
	return binary.LittleEndian.Uint32(data[pos*4 : (pos+1)*4]), nil
}

func parseStateAnswer(data []byte) (*RequestState, error) {
	secret, rawState, found := bytes.Cut(data, []byte{0})
	if !found {
		return nil, &BadAnswerError{Msg: "missing NUL separator"}
	}
	switch string(rawState) {
	case "true":
		return &RequestState{Secret: string(secret), Active: true}, nil
	case "false":
		return &RequestState{Secret: string(secret), Active: false}, nil
	}
	return nil, &BadAnswerError{Msg: fmt.Sprintf("invalid active state %q", rawState)}
}

func parseEmailAnswer(data []byte) (*EmailResult, error) {
	rawOK, rawFailed, found := bytes.Cut(data, []byte{0})
	if !found {
		return nil, &BadAnswerError{Msg: "missing NUL separator"}
	}
	return &EmailResult{
		OK:     splitNonEmpty(string(rawOK)),
		Failed: splitNonEmpty(string(rawFailed)),
	}, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, " ") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
