package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "MESHCONF_LISTEN_ADDR"
	envVarMode            = "MESHCONF_MODE"
	envVarLogFormat       = "MESHCONF_LOG_FORMAT"
	envVarLogLevel        = "MESHCONF_LOG_LEVEL"
	envVarShutdownTimeout = "MESHCONF_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Meeting/user store + REST auth.
	envVarDBPath      = "MESHCONF_DB_PATH"
	envVarJWTSecret   = "MESHCONF_JWT_SECRET"
	envVarTokenTTL    = "MESHCONF_TOKEN_TTL"

	// WebSocket signaling hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	// Room state.
	envVarMaxChatHistory = "MAX_CHAT_HISTORY"

	// TURN REST ephemeral credentials (coturn use-auth-secret mode). When the
	// secret is set, TURN entries in the ICE config may omit static
	// credentials; the ICE endpoint mints short-lived ones per request.
	envVarTURNRESTSecret = "MESHCONF_TURN_REST_SECRET"
	envVarTURNRESTTTL    = "MESHCONF_TURN_REST_TTL"
	envVarTURNRESTPrefix = "MESHCONF_TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr           = "127.0.0.1:8080"
	DefaultShutdown             = 15 * time.Second
	DefaultMode            Mode = ModeDev
	DefaultDBPath               = "meshconf.db"
	DefaultTokenTTL             = 24 * time.Hour
	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 54 * time.Second

	// DefaultMaxSignalingMessageBytes is sized for SDP payloads, which dominate
	// signaling traffic; chat messages are far smaller.
	DefaultMaxSignalingMessageBytes = 64 * 1024

	DefaultMaxSignalingMessagesPerSecond = 50

	// DefaultMaxChatHistory bounds the per-room chat replay buffer. Rooms that
	// outlive the cap replay only the most recent messages to late joiners.
	DefaultMaxChatHistory = 512

	DefaultTURNRESTTTL    = time.Hour
	DefaultTURNRESTPrefix = "meshconf"
)

type Mode string

const (
	ModeDev        Mode = "dev"
	ModeProduction Mode = "production"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the fully resolved runtime configuration for the relay process.
type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	DBPath    string
	JWTSecret string
	TokenTTL  time.Duration

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	MaxChatHistory int

	ICEServers []webrtc.ICEServer

	TURNRESTSecret         string
	TURNRESTTTL            time.Duration
	TURNRESTUsernamePrefix string

	// iceErr records a deferred ICE configuration error so /readyz can report
	// it without failing startup in dev.
	iceErr error
}

// TURNRESTEnabled reports whether ephemeral TURN credentials are configured.
func (c Config) TURNRESTEnabled() bool {
	return c.TURNRESTSecret != ""
}

// ICEConfigError returns the deferred ICE configuration error, if any.
func (c Config) ICEConfigError() error {
	return c.iceErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	dbPath := envOrDefault(lookup, envVarDBPath, DefaultDBPath)
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	tokenTTL, err := envDurationOrDefault(lookup, envVarTokenTTL, DefaultTokenTTL)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxChatHistory, err := envIntOrDefault(lookup, envVarMaxChatHistory, DefaultMaxChatHistory)
	if err != nil {
		return Config{}, err
	}

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, DefaultStunURLs)
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSecret := envOrDefault(lookup, envVarTURNRESTSecret, "")
	turnRESTPrefix := envOrDefault(lookup, envVarTURNRESTPrefix, DefaultTURNRESTPrefix)
	turnRESTTTL, err := envDurationOrDefault(lookup, envVarTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("meshconf-relay", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen", listenAddr, "TCP listen address for the HTTP/WebSocket server")
	modeStr := fs.String("mode", modeDefault, "runtime mode: dev or production")
	logFormatStr := fs.String("log-format", logFormatDefault, "log output format: text or json")
	logLevelStr := fs.String("log-level", logLevelDefault, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if mode == ModeProduction && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set in production mode", envVarJWTSecret)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessagesPerSecond)
	}
	if maxChatHistory <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxChatHistory)
	}
	if turnRESTSecret != "" && turnRESTTTL <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarTURNRESTTTL)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  splitCommaSeparated(allowedOriginsStr),

		DBPath:    dbPath,
		JWTSecret: jwtSecret,
		TokenTTL:  tokenTTL,

		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		MaxSignalingMessageBytes:      int64(maxMessageBytes),
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,

		MaxChatHistory: maxChatHistory,

		TURNRESTSecret:         turnRESTSecret,
		TURNRESTTTL:            turnRESTTTL,
		TURNRESTUsernamePrefix: turnRESTPrefix,
	}

	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, cfg.TURNRESTEnabled())
	if iceErr != nil {
		if mode == ModeProduction {
			return Config{}, iceErr
		}
		cfg.iceErr = iceErr
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

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProduction:
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (expected dev or production)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.TrimSpace(strings.ToLower(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}

func defaultLogFormatForMode(mode string) string {
	if mode == string(ModeProduction) {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode string) string {
	if mode == string(ModeProduction) {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envIntOrDefault(lookup func(string) (string, bool), key string, def int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
