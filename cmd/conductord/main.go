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

// Command agentrund is the orchestrator daemon: it owns the SQLite-backed
// run store, the scheduler, the process supervisor and the HTTP command
// surface that cmd/agentrunctl talks to.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fathomhq/agentrun/internal/capability"
	"github.com/fathomhq/agentrun/internal/client"
	"github.com/fathomhq/agentrun/internal/eventbus"
	"github.com/fathomhq/agentrun/internal/lifecycle"
	"github.com/fathomhq/agentrun/internal/logging"
	"github.com/fathomhq/agentrun/internal/runner"
	"github.com/fathomhq/agentrun/internal/scheduler"
	"github.com/fathomhq/agentrun/internal/secretstore"
	"github.com/fathomhq/agentrun/internal/server"
	"github.com/fathomhq/agentrun/internal/session"
	"github.com/fathomhq/agentrun/internal/store"
	"github.com/fathomhq/agentrun/internal/supervisor"
	"github.com/fathomhq/agentrun/internal/xdgpaths"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		socketPath    = flag.String("socket", "", "Unix socket path (default under the user's runtime/home directory)")
		tcpAddr       = flag.String("tcp", "", "TCP address to additionally listen on")
		tlsCert       = flag.String("tls-cert", "", "Path to TLS certificate file")
		tlsKey        = flag.String("tls-key", "", "Path to TLS private key file")
		allowRemote   = flag.Bool("allow-remote", false, "Allow binding to non-loopback addresses (SECURITY WARNING)")
		apiKey        = flag.String("api-key", os.Getenv("AGENTRUN_API_KEY"), "Bearer token required on TCP requests")
		pidFile       = flag.String("pid-file", "", "PID file path (default under XDG state dir)")
		globalLimit   = flag.Int("global-limit", 0, "Max concurrently running agents across all providers (0 = default)")
		providerLimit = flag.Int("provider-limit", 0, "Max concurrently running agents per provider (0 = default)")
		queueSize     = flag.Int("max-queue", 0, "Max queued runs (0 = default)")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentrund %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := logging.New(logging.FromEnv())
	slog.SetDefault(logger)

	if *allowRemote {
		logger.Warn("--allow-remote is enabled; the daemon will accept TCP connections from any network address")
	}

	if err := run(logger, runConfig{
		socketPath:    *socketPath,
		tcpAddr:       *tcpAddr,
		tlsCert:       *tlsCert,
		tlsKey:        *tlsKey,
		allowRemote:   *allowRemote,
		apiKey:        *apiKey,
		pidFile:       *pidFile,
		globalLimit:   *globalLimit,
		providerLimit: *providerLimit,
		queueSize:     *queueSize,
	}); err != nil {
		logger.Error("daemon exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

type runConfig struct {
	socketPath    string
	tcpAddr       string
	tlsCert       string
	tlsKey        string
	allowRemote   bool
	apiKey        string
	pidFile       string
	globalLimit   int
	providerLimit int
	queueSize     int
}

func run(logger *slog.Logger, cfg runConfig) error {
	socketPath := cfg.socketPath
	if socketPath == "" {
		p, err := client.DefaultSocketPath()
		if err != nil {
			return fmt.Errorf("resolving socket path: %w", err)
		}
		socketPath = p
	}

	pidPath := cfg.pidFile
	if pidPath == "" {
		p, err := xdgpaths.PIDFilePath()
		if err != nil {
			return fmt.Errorf("resolving pid file path: %w", err)
		}
		pidPath = p
	}

	pidMgr := lifecycle.NewPIDFileManager(pidPath)
	if err := pidMgr.Create(os.Getpid()); err != nil {
		return fmt.Errorf("acquiring pid file: %w", err)
	}
	defer pidMgr.Remove()

	storePath, err := xdgpaths.StorePath()
	if err != nil {
		return fmt.Errorf("resolving store path: %w", err)
	}
	st, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	limits := scheduler.Limits{
		GlobalLimit:      cfg.globalLimit,
		PerProviderLimit: cfg.providerLimit,
		MaxQueueSize:     cfg.queueSize,
	}
	sched := scheduler.New(limits, logger)
	sup := supervisor.New()
	sessions := session.New()
	capReg := capability.NewRegistry()
	bus := eventbus.New()

	registry := prometheus.NewRegistry()
	metrics := runner.NewMetrics(registry)

	rn := runner.New(st, sched, sup, sessions, capReg, bus, metrics, logger)
	sched.SetExecutor(rn.Execute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx)

	recovered, err := rn.RecoverOrphans(ctx)
	if err != nil {
		logger.Error("failed to recover orphaned runs", slog.Any("error", err))
	} else if recovered > 0 {
		logger.Info("recovered orphaned runs", slog.Int("count", recovered))
	}

	tokens := secretstore.NewProviderTokenStore()

	router := server.NewRouter(server.Deps{
		Runner:   rn,
		Tokens:   tokens,
		Registry: registry,
		Version: server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		},
		Started: time.Now(),
		APIKey:  cfg.apiKey,
		Logger:  logger,
	})

	srvCfg := server.Config{
		SocketPath:  socketPath,
		TCPAddr:     cfg.tcpAddr,
		AllowRemote: cfg.allowRemote,
		APIKey:      cfg.apiKey,
	}
	if cfg.tlsCert != "" && cfg.tlsKey != "" {
		tc, err := loadTLSConfig(cfg.tlsCert, cfg.tlsKey)
		if err != nil {
			return fmt.Errorf("loading TLS config: %w", err)
		}
		srvCfg.TLSConfig = tc
	}

	srv := server.New(srvCfg, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	go runRetentionLoop(ctx, st, rn, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	return nil
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// runRetentionLoop periodically prunes terminal runs per the configured
// retention settings until ctx is canceled.
func runRetentionLoop(ctx context.Context, st *store.Store, rn *runner.Runner, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settings, err := rn.GetSettings(ctx)
			if err != nil {
				logger.Error("retention: failed to load settings", slog.Any("error", err))
				continue
			}
			pruned, err := st.Prune(ctx, settings)
			if err != nil {
				logger.Error("retention: prune failed", slog.Any("error", err))
				continue
			}
			if pruned > 0 {
				logger.Info("retention: pruned terminal runs", slog.Int("count", pruned))
			}
		}
	}
}
