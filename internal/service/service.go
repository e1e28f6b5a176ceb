// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package service implements the daemon's command handlers: the glue
// between the protocol codec, the reset request store, the password
// strength evaluator, and the account directory.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-limiter"

	"github.com/resetd/resetd/internal/directory"
	"github.com/resetd/resetd/internal/protocol"
	"github.com/resetd/resetd/internal/pwcheck"
	"github.com/resetd/resetd/internal/request"
)

// Policy holds the tunable business rules.
type Policy struct {
	// MaxDurationHours caps the validity window a CREATEREQUEST may ask
	// for.
	MaxDurationHours uint32

	// MinScore is the strength floor for new passwords and for
	// caller-supplied secrets.
	MinScore int

	// InvalidCredentialDelay is the fixed pause served before every
	// invalid-credential answer.
	InvalidCredentialDelay time.Duration
}

// DefaultPolicy returns the shipped policy defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxDurationHours:       7 * 24,
		MinScore:               10,
		InvalidCredentialDelay: 2 * time.Second,
	}
}

// Deps bundles the collaborators a Service needs. Store and Directory
// are required; the rest default sensibly.
type Deps struct {
	Store     request.Store
	Directory directory.Directory
	Scorer    *pwcheck.Scorer
	Mailer    Mailer
	Limiter   limiter.Store
	Logger    *slog.Logger
}

// Service executes decoded commands against the store and directory.
type Service struct {
	store   request.Store
	dir     directory.Directory
	scorer  *pwcheck.Scorer
	mailer  Mailer
	limiter limiter.Store
	policy  Policy
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Service. A nil Scorer gets the default evaluator, a nil
// Mailer the log mailer, a nil Limiter disables rate limiting.
func New(deps Deps, policy Policy) *Service {
	scorer := deps.Scorer
	if scorer == nil {
		scorer = pwcheck.NewScorer(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = &LogMailer{Logger: logger}
	}
	return &Service{
		store:   deps.Store,
		dir:     deps.Directory,
		scorer:  scorer,
		mailer:  mailer,
		limiter: deps.Limiter,
		policy:  policy,
		log:     logger,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create opens a new reset request and returns its secret code.
func (s *Service) Create(ctx context.Context, cmd protocol.CreateRequest) (string, error) {
	acct, err := s.resolveTarget(ctx, cmd.Target)
	if err != nil {
		return "", err
	}

	duration := cmd.Duration
	if duration == 0 {
		duration = request.DefaultDuration
	}
	if duration > s.policy.MaxDurationHours {
		return "", reject("Duration too long",
			"requested duration %dh exceeds the %dh cap", duration, s.policy.MaxDurationHours)
	}

	secret := cmd.Secret
	if secret == protocol.AutogenerateSecret {
		secret, err = generateSecret()
		if err != nil {
			return "", err
		}
	} else {
		score, detail := s.scorer.Score(secret, acct.PersonalWords())
		if score == pwcheck.FailedScore {
			return "", reject(detail, "supplied secret failed quality checks for %s: %s", acct.Name, detail)
		}
		if score < s.policy.MinScore {
			return "", reject("Weak secret",
				"supplied secret scored %d for %s, minimum is %d", score, acct.Name, s.policy.MinScore)
		}
	}

	rr, err := request.New(acct.Name, secret, duration, cmd.Enabled)
	if err != nil {
		return "", oops.With("account", acct.Name).Wrap(err)
	}
	if err := s.store.Insert(ctx, rr); err != nil {
		if errors.Is(err, request.ErrDuplicateSecret) {
			return "", reject("Secret already in use",
				"secret collision while creating a request for %s", acct.Name)
		}
		return "", err
	}

	s.log.InfoContext(ctx, "reset request created",
		"account", acct.Name,
		"duration_hours", duration,
		"enabled", cmd.Enabled)
	return secret, nil
}

func (s *Service) resolveTarget(ctx context.Context, target protocol.Target) (directory.Account, error) {
	switch target.Kind {
	case protocol.TargetUsername:
		acct, err := s.dir.LookupByAttribute(ctx, directory.AttrUsername, target.Value)
		if errors.Is(err, directory.ErrNoSuchAccount) {
			return directory.Account{}, reject("Unknown user", "no account with uid %q", target.Value)
		}
		return acct, err
	case protocol.TargetEmail:
		// a shared address is legal, the first owner gets the request
		accts, err := s.dir.LookupAllByAttribute(ctx, directory.AttrEmail, target.Value)
		if errors.Is(err, directory.ErrNoSuchAccount) {
			return directory.Account{}, reject("Unknown email address", "no account with mail %q", target.Value)
		}
		if err != nil {
			return directory.Account{}, err
		}
		return accts[0], nil
	default:
		return directory.Account{}, oops.Code("SVC_BAD_TARGET").Errorf("unknown target kind %q", target.Kind)
	}
}

// generateSecret mints a 64-character hex secret from 32 random bytes.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("SVC_SECRET_FAILED").Wrap(err)
	}
	return hex.EncodeToString(buf), nil
}

// Reset consumes a request and changes the account password. peer
// identifies the caller for invalid-credential throttling.
func (s *Service) Reset(ctx context.Context, peer string, cmd protocol.ResetPassword) error {
	rr, err := s.store.GetBySecret(ctx, cmd.Secret)
	if errors.Is(err, request.ErrNotFound) {
		return s.invalidCredentials(ctx, peer, "unknown secret")
	}
	if err != nil {
		return err
	}
	if rr.AccountName != cmd.Username {
		return s.invalidCredentials(ctx, peer, "username does not match the request")
	}
	if !rr.Active {
		return s.invalidCredentials(ctx, peer, "request is inactive")
	}
	if rr.Expired() {
		return reject("Request expired", "request for %s expired at %s", rr.AccountName, rr.ExpiryDate())
	}

	acct, err := s.dir.LookupByAttribute(ctx, directory.AttrUsername, rr.AccountName)
	if errors.Is(err, directory.ErrNoSuchAccount) {
		// the store references an account the directory no longer has
		return &BusinessError{
			Status: protocol.StatusError,
			Client: "Internal error",
			Reason: "request references unknown account " + rr.AccountName,
		}
	}
	if err != nil {
		return err
	}

	score, detail := s.scorer.Score(string(cmd.NewPassword), acct.PersonalWords())
	if score == pwcheck.FailedScore {
		return reject(detail, "new password for %s failed quality checks: %s", acct.Name, detail)
	}
	if score < s.policy.MinScore {
		return reject("Weak password",
			"new password for %s scored %d, minimum is %d", acct.Name, score, s.policy.MinScore)
	}

	won, err := s.store.Consume(ctx, cmd.Secret)
	if err != nil {
		return err
	}
	if !won {
		return s.invalidCredentials(ctx, peer, "request was consumed concurrently")
	}

	if err := s.dir.ChangePassword(ctx, acct.Name, cmd.NewPassword); err != nil {
		// the request is spent; surface the failure loudly
		return oops.Code("SVC_PASSWORD_CHANGE_FAILED").With("account", acct.Name).Wrap(err)
	}

	s.log.InfoContext(ctx, "password reset completed", "account", acct.Name)
	return nil
}

// invalidCredentials throttles the caller and returns the uniform
// rejection. Every failure path answers with the same client text so the
// wire leaks nothing about which check failed.
func (s *Service) invalidCredentials(ctx context.Context, peer, why string) error {
	if s.limiter != nil {
		_, _, _, ok, err := s.limiter.Take(ctx, peer)
		if err != nil {
			return oops.Code("SVC_LIMITER_FAILED").With("peer", peer).Wrap(err)
		}
		if !ok {
			s.log.WarnContext(ctx, "peer exceeded invalid-credential budget", "peer", peer)
			return reject("Too many attempts", "rate limit exhausted for %s after: %s", peer, why)
		}
	}
	if err := s.sleep(ctx, s.policy.InvalidCredentialDelay); err != nil {
		return err
	}
	return reject("Invalid credentials", "%s", why)
}

// SetActive flips a request's active flag and reports its new state.
func (s *Service) SetActive(ctx context.Context, secret string, active bool) (*protocol.RequestState, error) {
	n, err := s.store.UpdateFieldBySecret(ctx, secret, request.FieldActive, active)
	if errors.Is(err, request.ErrNotFound) {
		return nil, reject("Unknown secret", "no request with the given secret")
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, reject("Unknown secret", "update touched no request")
	}

	s.log.InfoContext(ctx, "request state changed", "active", active)
	return &protocol.RequestState{Secret: secret, Active: active}, nil
}

// List returns stored requests, up to limit.
func (s *Service) List(ctx context.Context, limit uint32) ([]*request.ResetRequest, error) {
	return s.store.List(ctx, limit)
}

// SendEmail notifies the owner of each secret's request. Per-secret
// failures are collected rather than aborting the batch; only store
// corruption and directory inconsistency abort.
func (s *Service) SendEmail(ctx context.Context, messageType string, secrets []string) (*protocol.EmailResult, error) {
	result := &protocol.EmailResult{}
	for _, secret := range secrets {
		if err := s.sendOne(ctx, messageType, secret); err != nil {
			if errors.Is(err, request.ErrCorrupted) || errors.Is(err, directory.ErrInconsistent) {
				return nil, err
			}
			s.log.WarnContext(ctx, "mail notification failed", "message_type", messageType, "error", err)
			result.Failed = append(result.Failed, secret)
			continue
		}
		result.OK = append(result.OK, secret)
	}
	return result, nil
}

func (s *Service) sendOne(ctx context.Context, messageType, secret string) error {
	rr, err := s.store.GetBySecret(ctx, secret)
	if err != nil {
		return err
	}
	acct, err := s.dir.LookupByAttribute(ctx, directory.AttrUsername, rr.AccountName)
	if err != nil {
		return err
	}
	if acct.Email == "" {
		return oops.With("account", acct.Name).Errorf("account has no mail address")
	}
	return s.mailer.Send(ctx, messageType, rr, acct.Email)
}
