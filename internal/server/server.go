// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server implements the daemon's HTTP API: the Runner Core's
// command surface (§6) exposed as routes, Prometheus metrics, and the
// run_event Server-Sent Events stream the CLI's --follow flag consumes.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// Config configures the listeners a Server binds.
type Config struct {
	// SocketPath is the Unix socket the daemon listens on. Required unless
	// TCPAddr is set.
	SocketPath string

	// TCPAddr, if non-empty, additionally binds a TCP listener (loopback by
	// default; AllowRemote permits non-loopback addresses).
	TCPAddr string

	// AllowRemote permits TCPAddr to bind a non-loopback address.
	AllowRemote bool

	// TLSConfig, if non-nil, serves the TCP listener over TLS.
	TLSConfig *tls.Config

	// APIKey, if non-empty, is required via "Authorization: Bearer <key>" on
	// every TCP request. Unix socket requests are trusted implicitly (peer
	// identity is the local filesystem permission on the socket).
	APIKey string
}

// Server owns the daemon's HTTP listeners and their shared http.Server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server

	mu          sync.Mutex
	unixLn      net.Listener
	tcpLn       net.Listener
	socketOwned string
}

// New builds a Server around handler, ready to Start.
func New(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // SSE streams (run_event) and interactive sessions can run for minutes.
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start binds the configured listeners and serves until ctx is canceled or
// an unrecoverable accept error occurs.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.SocketPath == "" && s.cfg.TCPAddr == "" {
		return fmt.Errorf("server: no listener configured")
	}

	errCh := make(chan error, 2)

	if s.cfg.SocketPath != "" {
		ln, err := listenUnix(s.cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("listening on socket %s: %w", s.cfg.SocketPath, err)
		}
		s.mu.Lock()
		s.unixLn = ln
		s.socketOwned = s.cfg.SocketPath
		s.mu.Unlock()
		s.logger.Info("daemon listening", "transport", "unix", "path", s.cfg.SocketPath)
		go func() { errCh <- s.http.Serve(ln) }()
	}

	if s.cfg.TCPAddr != "" {
		if !s.cfg.AllowRemote && !isLoopback(s.cfg.TCPAddr) {
			return fmt.Errorf("refusing to bind non-loopback address %s without --allow-remote", s.cfg.TCPAddr)
		}
		ln, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.cfg.TCPAddr, err)
		}
		if s.cfg.TLSConfig != nil {
			ln = tls.NewListener(ln, s.cfg.TLSConfig)
		}
		s.mu.Lock()
		s.tcpLn = ln
		s.mu.Unlock()
		s.logger.Info("daemon listening", "transport", "tcp", "addr", ln.Addr().String(), "tls", s.cfg.TLSConfig != nil)
		go func() { errCh <- s.http.Serve(ln) }()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Shutdown gracefully drains in-flight requests and removes the Unix socket
// file this Server created.
func (s *Server) Shutdown(ctx context.Context) error {
	s.http.SetKeepAlivesEnabled(false)
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	owned := s.socketOwned
	s.mu.Unlock()
	if owned != "" {
		_ = os.Remove(owned)
	}
	return err
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
