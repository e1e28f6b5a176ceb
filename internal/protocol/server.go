// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/resetd/resetd/internal/request"
	"github.com/resetd/resetd/internal/wire"
)

// forbiddenSecretRun matches the first run of characters outside the
// secret allow-set: letters, digits and a little punctuation. Nothing else
// is permitted in a caller-chosen secret.
var forbiddenSecretRun = regexp.MustCompile(`[^0-9A-Za-z.,_-]+`)

// createTrailerSize is the fixed binary third argument of CREATEREQUEST:
// duration (uint32 LE) and enabled (bool).
const createTrailerSize = 5

// fixedArity maps fixed-arity verbs to their argument count. SENDEMAIL is
// variadic and checked by its own parser.
var fixedArity = map[string]int{
	VerbCreateRequest:  3,
	VerbListRequests:   1,
	VerbResetPassword:  3,
	VerbEnableRequest:  1,
	VerbDisableRequest: 1,
}

// ReadCommand reads one framed message from r and decodes it. A clean
// disconnect returns (nil, nil). Framing errors and unknown verbs are
// fatal; command-level content errors are answerable BadRequestErrors.
func ReadCommand(r io.Reader, f wire.Framer) (Command, error) {
	payload, err := f.Receive(r)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	return DecodeCommand(payload)
}

// DecodeCommand turns a framed payload into a typed command.
func DecodeCommand(payload []byte) (Command, error) {
	var verb string
	var rest []byte
	if idx := bytes.IndexByte(payload, ' '); idx >= 0 {
		verb, rest = string(payload[:idx]), payload[idx+1:]
	} else {
		verb = strings.TrimSpace(string(payload))
	}

	switch verb {
	case "":
		return nil, &ProtocolError{Msg: "empty command"}
	case VerbTestProtocol:
		return TestProtocol{Raw: string(rest)}, nil
	case VerbTerminate:
		return Terminate{}, nil
	}

	if _, ok := fixedArity[verb]; !ok && verb != VerbSendEmail {
		return nil, &ProtocolError{Msg: fmt.Sprintf("unknown command %q", verb)}
	}
	if rest == nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("got command %s without an argument", verb)}
	}

	argv := bytes.Split(rest, []byte{' '})
	if want, ok := fixedArity[verb]; ok && len(argv) != want {
		return nil, &BadRequestError{Msg: fmt.Sprintf("%s: requires exactly %d arguments, %d given", verb, want, len(argv))}
	}

	cmd, err := parseArgs(verb, argv)
	if err != nil {
		// prefix the verb so the client knows which command misfired
		if bad, ok := err.(*BadRequestError); ok {
			return nil, &BadRequestError{Msg: verb + ": " + bad.Msg}
		}
		return nil, err
	}
	return cmd, nil
}

func parseArgs(verb string, argv [][]byte) (Command, error) {
	switch verb {
	case VerbCreateRequest:
		return parseCreateRequest(argv)
	case VerbListRequests:
		return parseListRequests(argv)
	case VerbResetPassword:
		return parseResetPassword(argv)
	case VerbEnableRequest:
		return EnableRequest{Secret: string(argv[0])}, nil
	case VerbDisableRequest:
		return DisableRequest{Secret: string(argv[0])}, nil
	case VerbSendEmail:
		return parseSendEmail(argv)
	}
	return nil, &ProtocolError{Msg: fmt.Sprintf("unknown command %q", verb)}
}

func parseCreateRequest(argv [][]byte) (Command, error) {
	var target Target
	first := string(argv[0])
	switch {
	case strings.HasPrefix(first, "username="):
		name := first[len("username="):]
		if name == "" {
			return nil, &BadRequestError{Msg: "no username specified"}
		}
		target = Target{Kind: TargetUsername, Value: name}
	case strings.HasPrefix(first, "email="):
		email, err := base64.StdEncoding.DecodeString(first[len("email="):])
		if err != nil {
			return nil, &BadRequestError{Msg: fmt.Sprintf("cannot decode email address in %q", first)}
		}
		target = Target{Kind: TargetEmail, Value: string(email)}
	default:
		return nil, &BadRequestError{Msg: "first argument must start with username=|email="}
	}

	secret := string(argv[1])
	if secret != AutogenerateSecret {
		if run := forbiddenSecretRun.FindString(secret); run != "" {
			return nil, &BadRequestError{Msg: fmt.Sprintf("found forbidden character(s) in secret: %q", run)}
		}
	}

	if len(argv[2]) != createTrailerSize {
		return nil, &BadRequestError{Msg: fmt.Sprintf("cannot unpack binary record in third argument: %q", argv[2])}
	}
	return CreateRequest{
		Target:   target,
		Secret:   secret,
		Duration: binary.LittleEndian.Uint32(argv[2][0:4]),
		Enabled:  argv[2][4] != 0,
	}, nil
}

func parseListRequests(argv [][]byte) (Command, error) {
	if len(argv[0]) != 4 {
		return nil, &BadRequestError{Msg: fmt.Sprintf("cannot unpack integer in first argument: %q", argv[0])}
	}
	return ListRequests{Limit: binary.LittleEndian.Uint32(argv[0])}, nil
}

func parseResetPassword(argv [][]byte) (Command, error) {
	password, err := base64.StdEncoding.DecodeString(string(argv[2]))
	if err != nil {
		return nil, &BadRequestError{Msg: fmt.Sprintf("cannot decode new password: %q", argv[2])}
	}
	return ResetPassword{
		Username:    string(argv[0]),
		Secret:      string(argv[1]),
		NewPassword: password,
	}, nil
}

func parseSendEmail(argv [][]byte) (Command, error) {
	if len(argv) < 2 {
		return nil, &BadRequestError{Msg: fmt.Sprintf("requires at least 2 arguments, %d given", len(argv))}
	}
	secrets := make([]string, 0, len(argv)-1)
	for _, raw := range argv[1:] {
		secrets = append(secrets, string(raw))
	}
	return SendEmail{
		MessageType: strings.ToLower(string(argv[0])),
		Secrets:     secrets,
	}, nil
}

// WriteAnswer encodes an answer for verb and sends it framed on w.
func WriteAnswer(w io.Writer, f wire.Framer, verb string, status Status, data any) error {
	payload, err := EncodeAnswer(verb, status, data)
	if err != nil {
		return err
	}
	return f.Send(w, payload)
}

// WriteGenericAnswer sends a bare status-plus-text answer. BADREQUEST
// answers for commands that never parsed have no verb context and use
// this form.
func WriteGenericAnswer(w io.Writer, f wire.Framer, status Status, text string) error {
	return f.Send(w, genericAnswer(status, text))
}

// EncodeAnswer turns a status and verb-specific payload into answer bytes.
// A status outside the verb's allowed set falls back to the generic
// status-plus-text encoding. An unknown verb is a programming error.
func EncodeAnswer(verb string, status Status, data any) ([]byte, error) {
	if !KnownVerb(verb) {
		return nil, fmt.Errorf("protocol: encode answer: unknown verb %q", verb)
	}
	if !statusAllowed(verb, status) {
		return genericAnswer(status, data), nil
	}

	switch verb {
	case VerbListRequests:
		reqs, ok := data.([]*request.ResetRequest)
		if !ok {
			return nil, fmt.Errorf("protocol: %s answer wants []*request.ResetRequest, got %T", verb, data)
		}
		return listAnswer(status, reqs), nil
	case VerbEnableRequest, VerbDisableRequest:
		state, ok := data.(RequestState)
		if !ok {
			return nil, fmt.Errorf("protocol: %s answer wants RequestState, got %T", verb, data)
		}
		return []byte(fmt.Sprintf("%s %s\x00%s", status, state.Secret, strconv.FormatBool(state.Active))), nil
	case VerbSendEmail:
		result, ok := data.(EmailResult)
		if !ok {
			return nil, fmt.Errorf("protocol: %s answer wants EmailResult, got %T", verb, data)
		}
		// the outcome decides the status: ACK if anything went out at all
		if len(result.OK) == 0 {
			status = StatusNak
		} else {
			status = StatusAck
		}
		return []byte(fmt.Sprintf("%s %s\x00%s",
			status, strings.Join(result.OK, " "), strings.Join(result.Failed, " "))), nil
	}
	return genericAnswer(status, data), nil
}

func genericAnswer(status Status, data any) []byte {
	var text string
	switch v := data.(type) {
	case nil:
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		text = fmt.Sprint(v)
	}
	return []byte(string(status) + " " + text)
}

// listAnswer lays the packed records out behind an explicit table of
// cumulative byte offsets. Record bodies may contain arbitrary bytes, so a
// delimiter cannot do the job.
func listAnswer(status Status, reqs []*request.ResetRequest) []byte {
	var records []byte
	offsets := make([]uint32, 0, len(reqs))
	for _, r := range reqs {
		records = append(records, r.Pack()...)
		offsets = append(offsets, uint32(len(records)))
	}

	buf := []byte(string(status) + " ")
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(offsets)))
	for _, off := range offsets {
		buf = binary.LittleEndian.AppendUint32(buf, off)
	}
	return append(buf, records...)
}
