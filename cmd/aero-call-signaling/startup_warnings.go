package main

import (
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "null") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains 'null' (allows sandboxed and file:// pages)",
			"warning_code", "allowed_origins_null",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.RoomMode == room.ModeMultiparty && cfg.MaxRoomMembers <= 0 {
		logger.Warn("startup security warning: CALL_SIGNALING_MAX_ROOM_MEMBERS is unset/0 (unlimited) for multiparty rooms while --mode=prod",
			"warning_code", "max_room_members_unlimited_in_prod",
			"room_mode", cfg.RoomMode,
			"max_room_members", cfg.MaxRoomMembers,
			"mode", cfg.Mode,
		)
	}

	if cfg.RoomMode == room.ModePairwise && cfg.MaxRoomMembers > 0 {
		logger.Warn("CALL_SIGNALING_MAX_ROOM_MEMBERS is ignored in pairwise room mode",
			"warning_code", "max_room_members_ignored",
			"room_mode", cfg.RoomMode,
			"max_room_members", cfg.MaxRoomMembers,
		)
	}

	if cfg.Mode == config.ModeProd && isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup warning: listening on a loopback address while --mode=prod (not reachable from other hosts)",
			"warning_code", "loopback_listen_in_prod",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && strings.EqualFold(safeURLScheme(cfg.PublicBaseURL), "http") {
		logger.Warn("startup security warning: public base URL is plain http while --mode=prod (signaling payloads travel unencrypted)",
			"warning_code", "public_base_url_insecure",
			"public_base_url_host", safeURLHost(cfg.PublicBaseURL),
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > 24*60*60 {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS exceeds one day (leaked TURN credentials stay valid longer)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}

func safeURLScheme(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Scheme
}
