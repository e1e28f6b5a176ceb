// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package client is the programmatic interface to a running daemon: one
// method per protocol verb over a single framed TCP connection.
package client

import (
	"context"
	"net"

	"github.com/samber/oops"

	"github.com/resetd/resetd/internal/protocol"
	"github.com/resetd/resetd/internal/request"
	"github.com/resetd/resetd/internal/wire"
)

// Client is a connected protocol client. It is not safe for concurrent
// use; the protocol is strictly request/answer on one connection.
type Client struct {
	conn   net.Conn
	framer wire.Framer
}

// Dial connects to a daemon at addr.
func Dial(ctx context.Context, addr string, framer wire.Framer) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.Code("CLIENT_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	return &Client{conn: conn, framer: framer}, nil
}

// Close terminates the session politely and closes the connection. The
// termination verb gets no answer, so errors sending it are ignored and
// only the close itself is reported.
func (c *Client) Close() error {
	_ = protocol.WriteRequest(c.conn, c.framer, protocol.Terminate{})
	return c.conn.Close()
}

func (c *Client) roundTrip(cmd protocol.Command) (*protocol.Answer, error) {
	if err := protocol.WriteRequest(c.conn, c.framer, cmd); err != nil {
		return nil, oops.Code("CLIENT_WRITE_FAILED").With("verb", cmd.Verb()).Wrap(err)
	}
	answer, err := protocol.ReadAnswer(c.conn, c.framer, cmd.Verb())
	if err != nil {
		return nil, oops.Code("CLIENT_READ_FAILED").With("verb", cmd.Verb()).Wrap(err)
	}
	return answer, nil
}

// CreateRequest opens a reset request and returns the full answer; on
// ACK the answer text is the secret code.
func (c *Client) CreateRequest(cmd protocol.CreateRequest) (*protocol.Answer, error) {
	return c.roundTrip(cmd)
}

// ListRequests fetches up to limit stored requests.
func (c *Client) ListRequests(limit uint32) ([]*request.ResetRequest, *protocol.Answer, error) {
	answer, err := c.roundTrip(protocol.ListRequests{Limit: limit})
	if err != nil {
		return nil, nil, err
	}
	return answer.Requests, answer, nil
}

// ResetPassword consumes a secret to set a new account password.
func (c *Client) ResetPassword(username, secret string, newPassword []byte) (*protocol.Answer, error) {
	return c.roundTrip(protocol.ResetPassword{
		Username:    username,
		Secret:      secret,
		NewPassword: newPassword,
	})
}

// EnableRequest re-activates the request holding secret.
func (c *Client) EnableRequest(secret string) (*protocol.Answer, error) {
	return c.roundTrip(protocol.EnableRequest{Secret: secret})
}

// DisableRequest deactivates the request holding secret.
func (c *Client) DisableRequest(secret string) (*protocol.Answer, error) {
	return c.roundTrip(protocol.DisableRequest{Secret: secret})
}

// SendEmail asks the daemon to mail the owners of the given secrets.
func (c *Client) SendEmail(messageType string, secrets []string) (*protocol.Answer, error) {
	return c.roundTrip(protocol.SendEmail{MessageType: messageType, Secrets: secrets})
}

// TestProtocol sends a session probe and returns the echoed text.
func (c *Client) TestProtocol(text string) (string, error) {
	answer, err := c.roundTrip(protocol.TestProtocol{Raw: text})
	if err != nil {
		return "", err
	}
	if answer.Status != protocol.StatusAck {
		return "", oops.Code("CLIENT_PROBE_FAILED").
			With("status", string(answer.Status)).
			Errorf("protocol probe answered %s", answer.Status)
	}
	return answer.Text, nil
}
