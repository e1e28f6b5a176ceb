// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 resetd Contributors

// Package server runs the TCP front end: an accept loop handing each
// connection to a worker goroutine that reads framed commands, executes
// them through the service layer, and writes framed answers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/resetd/resetd/internal/directory"
	"github.com/resetd/resetd/internal/protocol"
	"github.com/resetd/resetd/internal/request"
	"github.com/resetd/resetd/internal/service"
	"github.com/resetd/resetd/internal/wire"
)

// Server is the daemon's TCP front end.
type Server struct {
	addr   string
	svc    *service.Service
	framer wire.Framer
	log    *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	fatalErr error

	wg sync.WaitGroup
}

// New creates a Server listening on addr once Run is called.
func New(addr string, svc *service.Service, framer wire.Framer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:   addr,
		svc:    svc,
		framer: framer,
		log:    log,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Addr returns the bound listen address, empty before Run.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until the context is cancelled or the
// store is found corrupted. On corruption the returned error carries the
// cause; a clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info("server started", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.log.Debug("error closing listener", "error", err)
		}
		s.closeConns()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				s.mu.RLock()
				defer s.mu.RUnlock()
				return s.fatalErr
			default:
				s.log.Error("accept failed", "error", err)
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// abort records a process-fatal condition and triggers shutdown. A store
// whose uniqueness invariant broke cannot be served against safely.
func (s *Server) abort(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	ConnectionsTotal.Inc()
	ConnectionsActive.Inc()
	defer ConnectionsActive.Dec()

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	peer := peerHost(conn)
	log := s.log.With("peer", conn.RemoteAddr().String())
	log.Debug("client connected")

	for {
		cmd, err := protocol.ReadCommand(conn, s.framer)
		if err != nil {
			var bad *protocol.BadRequestError
			if errors.As(err, &bad) {
				log.Info("bad request", "error", bad.Msg)
				if err := protocol.WriteGenericAnswer(conn, s.framer, protocol.StatusBadRequest, bad.Msg); err != nil {
					log.Debug("write failed", "error", err)
					return
				}
				continue
			}
			if protocol.IsFatal(err) {
				log.Warn("protocol violation, closing connection", "error", err)
			} else if ctx.Err() == nil {
				log.Debug("read failed", "error", err)
			}
			return
		}
		if cmd == nil {
			log.Debug("client disconnected")
			return
		}
		if _, ok := cmd.(protocol.Terminate); ok {
			log.Debug("session terminated by client")
			return
		}

		start := time.Now()
		status, data, fatal := s.execute(ctx, peer, cmd, log)
		CommandsTotal.WithLabelValues(cmd.Verb(), string(status)).Inc()
		CommandDuration.WithLabelValues(cmd.Verb()).Observe(time.Since(start).Seconds())

		if err := protocol.WriteAnswer(conn, s.framer, cmd.Verb(), status, data); err != nil {
			log.Debug("write failed", "error", err)
			return
		}
		if fatal != nil {
			s.abort(fatal)
			return
		}
	}
}

// execute dispatches one command. The third return value is non-nil when
// the error class demands shutting the whole daemon down; the answer is
// still delivered first.
func (s *Server) execute(ctx context.Context, peer string, cmd protocol.Command, log *slog.Logger) (protocol.Status, any, error) {
	var (
		data any
		err  error
	)

	switch c := cmd.(type) {
	case protocol.CreateRequest:
		data, err = s.svc.Create(ctx, c)
	case protocol.ListRequests:
		data, err = s.svc.List(ctx, c.Limit)
	case protocol.ResetPassword:
		err = s.svc.Reset(ctx, peer, c)
		if err == nil {
			data = "Password changed"
		}
	case protocol.EnableRequest:
		var state *protocol.RequestState
		state, err = s.svc.SetActive(ctx, c.Secret, true)
		if err == nil {
			data = *state
		}
	case protocol.DisableRequest:
		var state *protocol.RequestState
		state, err = s.svc.SetActive(ctx, c.Secret, false)
		if err == nil {
			data = *state
		}
	case protocol.SendEmail:
		var result *protocol.EmailResult
		result, err = s.svc.SendEmail(ctx, c.MessageType, c.Secrets)
		if err == nil {
			data = *result
		}
	case protocol.TestProtocol:
		data = c.Raw
	default:
		log.Error("unhandled command", "verb", cmd.Verb())
		return protocol.StatusError, "Internal error", nil
	}

	if err == nil {
		return protocol.StatusAck, data, nil
	}

	if be, ok := service.AsBusiness(err); ok {
		log.Info("command rejected", "verb", cmd.Verb(), "reason", be.Reason)
		return be.AnswerStatus(), be.Client, nil
	}

	log.Error("command failed", "verb", cmd.Verb(), "error", err)
	if errors.Is(err, request.ErrCorrupted) || errors.Is(err, directory.ErrInconsistent) {
		return protocol.StatusError, "Internal error", err
	}
	return protocol.StatusError, "Internal error", nil
}

func peerHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
