package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-call-signaling",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"room_mode", cfg.RoomMode,
		"max_room_members", cfg.MaxRoomMembers,
		"strict_sdp", cfg.StrictSDP,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest", cfg.TURNREST.Enabled(),
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ice server configuration; /readyz will report not ready", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})

	coord := newCoordinator(cfg, logger)
	wsServer := signaling.NewWebSocketServer(coord, signaling.WebSocketConfig{
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLen:         cfg.SignalingSendQueueLen,
	}, logger)

	srv.Mux().Handle("GET /ws", wsServer)
	srv.Mux().Handle("GET /metrics", prometheusHandler(coord, wsServer))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		coord.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Cancel calls and close sockets first: net/http does not wait for
	// hijacked connections.
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("websocket shutdown incomplete", "err", err, "open_connections", wsServer.ActiveConnections())
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func newCoordinator(cfg config.Config, logger *slog.Logger) *signaling.Coordinator {
	return signaling.NewCoordinator(signaling.Options{
		Mode:       cfg.RoomMode,
		MaxMembers: cfg.MaxRoomMembers,
		StrictSDP:  cfg.StrictSDP,
		Logger:     logger,
		Metrics:    metrics.New(),
	})
}

// prometheusHandler exposes the coordinator's counters together with live
// room, session and connection gauges.
func prometheusHandler(coord *signaling.Coordinator, ws *signaling.WebSocketServer) http.Handler {
	return metrics.PrometheusHandler(coord.Metrics(),
		metrics.Gauge{Name: "rooms", Help: "Rooms with at least one member.", Value: func() int64 { return int64(coord.Stats().Rooms) }},
		metrics.Gauge{Name: "room_members", Help: "Connections that are members of a room.", Value: func() int64 { return int64(coord.Stats().Members) }},
		metrics.Gauge{Name: "call_sessions", Help: "Open negotiation sessions.", Value: func() int64 { return int64(coord.Stats().Sessions) }},
		metrics.Gauge{Name: "connections", Help: "Registered signaling connections.", Value: func() int64 { return int64(coord.Connections()) }},
		metrics.Gauge{Name: "websocket_connections", Help: "Open /ws sockets.", Value: func() int64 { return int64(ws.ActiveConnections()) }},
	)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
