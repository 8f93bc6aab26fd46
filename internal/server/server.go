// ============================================================================
// Standby Failover - Request Server
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Accept TCP connections and hand each one to a Handler
//
// Concurrency model:
//   One accept goroutine, one goroutine per accepted connection. There is no
//   pool and no backpressure: a slow client only stalls its own goroutine,
//   and the read/write deadlines in Handler bound how long it can do so.
//
// Shutdown (Stop):
//   1. mark closed, close the listener  → accept loop returns
//   2. wait for the accept loop to exit → no new handler goroutines
//   3. expire read deadlines of in-flight connections
//   4. wait for every handler to write its reply and close
//
// ============================================================================

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ChuLiYu/standby-failover/internal/metrics"
	"github.com/ChuLiYu/standby-failover/internal/processor"
	"github.com/ChuLiYu/standby-failover/internal/protocol"
)

// Config Server 配置
type Config struct {
	Addr           string        // host:port to listen on
	MaxMessageSize int64         // per-request byte limit
	ReadTimeout    time.Duration // per-connection read deadline
	WriteTimeout   time.Duration // per-connection write deadline
	Processor      processor.Processor
	Logger         *slog.Logger
	Metrics        *metrics.Collector
}

// DefaultConfig returns the settings the worker runs with.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		MaxMessageSize: protocol.DefaultMaxMessageSize,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server accepts connections and dispatches each to its Handler.
type Server struct {
	handler *Handler
	addr    string
	logger  *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	conns     map[net.Conn]struct{}
	closed    bool
	serving   bool
	serveDone chan struct{}

	handlers sync.WaitGroup
}

// New creates a Server; call Listen then Serve, or Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	return &Server{
		handler: &Handler{
			Processor:      cfg.Processor,
			MaxMessageSize: cfg.MaxMessageSize,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			Logger:         logger,
			Metrics:        cfg.Metrics,
		},
		addr:      cfg.Addr,
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
		serveDone: make(chan struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return fmt.Errorf("server: already listening on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Stop. It always returns a non-nil error;
// ErrServerClosed after a clean Stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("server: already serving")
	}
	s.serving = true
	ln := s.listener
	s.mu.Unlock()

	defer close(s.serveDone)

	s.logger.Info("Server listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			// Transient accept failure (e.g. out of file descriptors)
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("Accept failed, retrying", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.untrack(conn)
			s.handler.ServeConn(conn)
		}()
	}
}

// Start binds and serves on a background goroutine.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Serve(); err != nil && !errors.Is(err, ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener and waits for in-flight connections to finish.
// Calling Stop more than once is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.listener
	serving := s.serving
	s.mu.Unlock()

	s.logger.Info("Stopping server...")

	if ln != nil {
		if err := ln.Close(); err != nil {
			s.logger.Warn("Failed to close listener", "error", err)
		}
	}
	if serving {
		<-s.serveDone
	}

	// Unblock handlers still waiting on a slow client
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.handlers.Wait()
	s.logger.Info("Server stopped")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.handlers.Done()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
