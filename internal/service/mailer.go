// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

package service

import (
	"context"
	"log/slog"

	"github.com/resetd/resetd/internal/request"
)

// Mailer delivers reset notifications. messageType is the lowercased
// template tag from the SENDEMAIL command.
type Mailer interface {
	Send(ctx context.Context, messageType string, rr *request.ResetRequest, recipient string) error
}

// LogMailer records the send in the log instead of delivering mail. It
// is the default Mailer; sites with an actual mail pipeline plug in
// their own implementation.
type LogMailer struct {
	Logger *slog.Logger
}

var _ Mailer = (*LogMailer)(nil)

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, messageType string, rr *request.ResetRequest, recipient string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail notification",
		"message_type", messageType,
		"account", rr.AccountName,
		"recipient", recipient,
		"expires", rr.ExpiryDate())
	return nil
}
