package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

const (
	envVarConfigFile      = "CALL_SIGNALING_CONFIG"
	envVarListenAddr      = "CALL_SIGNALING_LISTEN_ADDR"
	envVarPublicBaseURL   = "CALL_SIGNALING_PUBLIC_BASE_URL"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "CALL_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "CALL_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "CALL_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "CALL_SIGNALING_MODE"

	// Room policy.
	envVarRoomMode       = "CALL_SIGNALING_ROOM_MODE"
	envVarMaxRoomMembers = "CALL_SIGNALING_MAX_ROOM_MEMBERS"
	envVarStrictSDP      = "CALL_SIGNALING_STRICT_SDP"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueLen         = "SIGNALING_SEND_QUEUE_LEN"

	// TURN REST (ephemeral TURN credentials) configuration.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr = "127.0.0.1:8080"
	DefaultShutdown   = 15 * time.Second
	DefaultMode       = ModeDev

	DefaultRoomMode       = room.ModePairwise
	DefaultMaxRoomMembers = 0
	DefaultStrictSDP      = false

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueLen         = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	// ConfigFile is the YAML file the values were layered on, if any.
	ConfigFile string

	ListenAddr      string
	PublicBaseURL   string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	RoomMode room.Mode
	// MaxRoomMembers caps multiparty rooms. 0 means unlimited; pairwise rooms
	// always hold two.
	MaxRoomMembers int
	StrictSDP      bool

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueLen         int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports an invalid ICE server configuration. It is kept
// separate from Load errors so the process can start and report not-ready on
// /readyz instead of crash looping.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// fileConfig is the optional YAML layer. Values it sets sit beneath env vars
// and flags.
type fileConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	Mode            string        `yaml:"mode"`
	LogFormat       string        `yaml:"log_format"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Rooms struct {
		Mode       string `yaml:"mode"`
		MaxMembers *int   `yaml:"max_members"`
		StrictSDP  *bool  `yaml:"strict_sdp"`
	} `yaml:"rooms"`

	Signaling struct {
		IdleTimeout          time.Duration `yaml:"idle_timeout"`
		PingInterval         time.Duration `yaml:"ping_interval"`
		MaxMessageBytes      int64         `yaml:"max_message_bytes"`
		MaxMessagesPerSecond int           `yaml:"max_messages_per_second"`
		SendQueueLen         int           `yaml:"send_queue_len"`
	} `yaml:"signaling"`

	ICEServers []iceServerJSON `yaml:"ice_servers"`

	TURNREST struct {
		SharedSecret   string `yaml:"shared_secret"`
		TTLSeconds     int64  `yaml:"ttl_seconds"`
		UsernamePrefix string `yaml:"username_prefix"`
		Realm          string `yaml:"realm"`
	} `yaml:"turn_rest"`
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fc, err
	}
	return fc, nil
}

// configPathFromArgs finds --config before the full flag set is parsed, since
// the file provides the defaults the flags are registered with.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg || len(arg)-len(name) > 2 {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configPath := envOrDefault(lookup, envVarConfigFile, "")
	if p := configPathFromArgs(args); p != "" {
		configPath = p
	}
	var fc fileConfig
	if configPath != "" {
		var err error
		fc, err = readConfigFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("invalid config file %q: %w", configPath, err)
		}
	}

	modeDefault := envOrDefault(lookup, envVarMode, stringOr(fc.Mode, string(DefaultMode)))

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, fc.LogFormat)
	logFormatSet := logFormatDefault != ""
	if !logFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	logLevelDefault := envOrDefault(lookup, envVarLogLevel, fc.LogLevel)
	logLevelSet := logLevelDefault != ""
	if !logLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, stringOr(fc.ListenAddr, DefaultListenAddr))
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, fc.PublicBaseURL)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, durationOr(fc.ShutdownTimeout, DefaultShutdown))
	if err != nil {
		return Config{}, err
	}

	roomModeStr := envOrDefault(lookup, envVarRoomMode, stringOr(fc.Rooms.Mode, string(DefaultRoomMode)))
	maxRoomMembersDefault := DefaultMaxRoomMembers
	if fc.Rooms.MaxMembers != nil {
		maxRoomMembersDefault = *fc.Rooms.MaxMembers
	}
	maxRoomMembers, err := envIntOrDefault(lookup, envVarMaxRoomMembers, maxRoomMembersDefault)
	if err != nil {
		return Config{}, err
	}
	strictSDPDefault := DefaultStrictSDP
	if fc.Rooms.StrictSDP != nil {
		strictSDPDefault = *fc.Rooms.StrictSDP
	}
	strictSDP, err := envBoolOrDefault(lookup, envVarStrictSDP, strictSDPDefault)
	if err != nil {
		return Config{}, err
	}

	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, durationOr(fc.Signaling.IdleTimeout, DefaultSignalingWSIdleTimeout))
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, durationOr(fc.Signaling.PingInterval, DefaultSignalingWSPingInterval))
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytesDefault := DefaultMaxSignalingMessageBytes
	if fc.Signaling.MaxMessageBytes != 0 {
		maxSignalingMessageBytesDefault = fc.Signaling.MaxMessageBytes
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, maxSignalingMessageBytesDefault)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, intOr(fc.Signaling.MaxMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond))
	if err != nil {
		return Config{}, err
	}
	signalingSendQueueLen, err := envIntOrDefault(lookup, envVarSignalingSendQueueLen, intOr(fc.Signaling.SendQueueLen, DefaultSignalingSendQueueLen))
	if err != nil {
		return Config{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, fc.TURNREST.SharedSecret)
	turnRESTTTLDefault := DefaultTURNRESTTTLSeconds
	if fc.TURNREST.TTLSeconds != 0 {
		turnRESTTTLDefault = fc.TURNREST.TTLSeconds
	}
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, turnRESTTTLDefault)
	if err != nil {
		return Config{}, err
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, stringOr(fc.TURNREST.UsernamePrefix, DefaultTURNRESTUsernamePrefix))
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, fc.TURNREST.Realm)

	var modeStr, logFormatStr, logLevelStr string

	fs := flag.NewFlagSet("aero-call-signaling", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", configPath, "Optional YAML config file (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL (optional; used for logging)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&roomModeStr, "room-mode", roomModeStr, "Room policy: pairwise (two members) or multiparty (env "+envVarRoomMode+")")
	fs.IntVar(&maxRoomMembers, "max-room-members", maxRoomMembers, "Maximum members per multiparty room (0 = unlimited; env "+envVarMaxRoomMembers+")")
	fs.BoolVar(&strictSDP, "strict-sdp", strictSDP, "Reject offers, answers and candidates that do not parse as WebRTC payloads (env "+envVarStrictSDP+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&signalingSendQueueLen, "signaling-send-queue-len", signalingSendQueueLen, "Outbound events buffered per connection before dropping (env "+envVarSignalingSendQueueLen+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (AERO_ICE_SERVERS_JSON)")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs (AERO_STUN_URLS)")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs (AERO_TURN_URLS)")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (AERO_TURN_USERNAME)")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (AERO_TURN_CREDENTIAL)")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+envVarTURNRESTRealm+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !logFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !logLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}

	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	if strings.TrimSpace(publicBaseURL) != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("invalid public base URL %q (expected absolute URL)", publicBaseURL)
		}
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, err
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}

	roomMode, err := room.ParseMode(roomModeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/%s %q: %w", envVarRoomMode, "--room-mode", roomModeStr, err)
	}
	if maxRoomMembers < 0 {
		return Config{}, fmt.Errorf("%s/%s must be >= 0", envVarMaxRoomMembers, "--max-room-members")
	}
	if maxRoomMembers == 1 {
		return Config{}, fmt.Errorf("%s/%s must be 0 or >= 2", envVarMaxRoomMembers, "--max-room-members")
	}

	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarSignalingWSIdleTimeout, "--signaling-ws-idle-timeout")
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarSignalingWSPingInterval, "--signaling-ws-ping-interval")
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/%s (%s) must be < %s/%s (%s)",
			envVarSignalingWSPingInterval, "--signaling-ws-ping-interval", signalingWSPingInterval,
			envVarSignalingWSIdleTimeout, "--signaling-ws-idle-timeout", signalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarMaxSignalingMessageBytes, "--max-signaling-message-bytes")
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarMaxSignalingMessagesPerSecond, "--max-signaling-messages-per-second")
	}
	if signalingSendQueueLen <= 0 {
		return Config{}, fmt.Errorf("%s/%s must be > 0", envVarSignalingSendQueueLen, "--signaling-send-queue-len")
	}

	turnRESTSharedSecret = strings.TrimSpace(turnRESTSharedSecret)
	turnRESTUsernamePrefix = strings.TrimSpace(turnRESTUsernamePrefix)
	if turnRESTSharedSecret != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/%s must be > 0", envVarTURNRESTTTLSeconds, "--turn-rest-ttl-seconds")
		}
		// The username is "<expiry>:<prefix>:<id>"; coturn splits on ':'.
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("invalid %s/%s %q: must not contain ':'", envVarTURNRESTUsernamePrefix, "--turn-rest-username-prefix", turnRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ConfigFile:      configPath,
		ListenAddr:      listenAddr,
		PublicBaseURL:   publicBaseURL,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		RoomMode:       roomMode,
		MaxRoomMembers: maxRoomMembers,
		StrictSDP:      strictSDP,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SignalingSendQueueLen:         signalingSendQueueLen,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
			Realm:          strings.TrimSpace(turnRESTRealm),
		},
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		fc.ICEServers,
		cfg.TURNREST.Enabled(),
	)
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func stringOr(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
