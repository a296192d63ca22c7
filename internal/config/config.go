package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"cececho/internal/logging"
	dbconfig "cececho/pkg/database"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CECECHO_HTTP__PORT=9090.
	EnvPrefix = "CECECHO_"

	// ConfigFileEnvVar names an optional YAML file layered between defaults and env.
	ConfigFileEnvVar = "CECECHO_CONFIG_FILE"

	defaultConfigFile = "config.yaml"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Database   dbconfig.Config  `koanf:"database"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Auth       AuthConfig       `koanf:"auth"`
	WebRTC     WebRTCConfig     `koanf:"webrtc"`
	Membership MembershipConfig `koanf:"membership"`
	Chat       ChatConfig       `koanf:"chat"`
	Log        logging.Config   `koanf:"log"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// REST rate limit per client IP
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration tuned for a campus of concurrent callers
type WebSocketConfig struct {
	PingInterval    time.Duration `koanf:"ping_interval"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	BufferSize      int           `koanf:"buffer_size"`
	MaxMessageBytes int64         `koanf:"max_message_bytes"`
	EventsPerSecond float64       `koanf:"events_per_second"`
	EventBurst      int           `koanf:"event_burst"`
	RelayQueueSize  int           `koanf:"relay_queue_size"`
}

// AuthConfig verifies tokens signed by the account service. An empty issuer skips the iss check.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// WebRTCConfig is the static ICE server list handed to clients.
type WebRTCConfig struct {
	STUNURL              string `koanf:"stun_url"`
	TURNURL              string `koanf:"turn_url"`
	TURNUsername         string `koanf:"turn_username"`
	TURNCredential       string `koanf:"turn_credential"`
	ICECandidatePoolSize int    `koanf:"ice_candidate_pool_size"`
}

type MembershipConfig struct {
	GroupName        string        `koanf:"group_name"`
	GroupDescription string        `koanf:"group_description"`
	ProgramYears     int           `koanf:"program_years"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
}

type ChatConfig struct {
	HistoryLimit int `koanf:"history_limit"`
}

// DefaultConfig returns the built-in defaults, the lowest configuration layer.
func DefaultConfig() *Config {
	db := dbconfig.DefaultConfig()
	return &Config{
		HTTP: HTTPConfig{
			Host:              "0.0.0.0",
			Port:              5000,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"http://localhost:3000"},
			RateLimitRequests: 1000,
			RateLimitWindow:   15 * time.Minute,
		},
		Database: *db,
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 128 * 1024,
			EventsPerSecond: 50,
			EventBurst:      100,
			RelayQueueSize:  1000,
		},
		WebRTC: WebRTCConfig{
			STUNURL:              "stun:stun.l.google.com:19302",
			ICECandidatePoolSize: 10,
		},
		Membership: MembershipConfig{
			GroupName:        "CEC ASSEMBLE",
			GroupDescription: "Default community group for all CEC ECHO students.",
			ProgramYears:     4,
			SweepInterval:    time.Hour,
		},
		Chat: ChatConfig{
			HistoryLimit: 50,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the optional YAML file and CECECHO_ environment variables, then validates.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// envTransformFunc maps CECECHO_HTTP__READ_TIMEOUT to http.read_timeout.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.RateLimitRequests <= 0 || c.HTTP.RateLimitWindow <= 0 {
		return errors.New("HTTP rate limit must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 || c.WebSocket.RelayQueueSize <= 0 {
		return errors.New("WebSocket buffer and relay queue sizes must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}
	if c.WebSocket.EventsPerSecond <= 0 || c.WebSocket.EventBurst <= 0 {
		return errors.New("WebSocket event rate limit must be positive")
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth JWT secret cannot be empty")
	}

	if c.WebRTC.STUNURL == "" {
		return errors.New("WebRTC STUN url cannot be empty")
	}
	if c.WebRTC.ICECandidatePoolSize < 0 {
		return errors.New("ICE candidate pool size cannot be negative")
	}

	if strings.TrimSpace(c.Membership.GroupName) == "" {
		return errors.New("membership group name cannot be empty")
	}
	if c.Membership.ProgramYears <= 0 {
		return errors.New("membership program years must be positive")
	}
	if c.Membership.SweepInterval <= 0 {
		return errors.New("membership sweep interval must be positive")
	}

	if c.Chat.HistoryLimit <= 0 {
		return errors.New("chat history limit must be positive")
	}

	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// ICEServer is one entry of the client ICE configuration.
type ICEServer struct {
	URLs       string `json:"urls"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// ICEConfig is the structure served to clients before they create a peer connection.
type ICEConfig struct {
	ICEServers           []ICEServer `json:"iceServers"`
	ICECandidatePoolSize int         `json:"iceCandidatePoolSize"`
}

// ICE builds the client ICE configuration. The TURN entry is included only when configured.
func (w WebRTCConfig) ICE() ICEConfig {
	servers := []ICEServer{{URLs: w.STUNURL}}
	if w.TURNURL != "" {
		servers = append(servers, ICEServer{
			URLs:       w.TURNURL,
			Username:   w.TURNUsername,
			Credential: w.TURNCredential,
		})
	}
	return ICEConfig{ICEServers: servers, ICECandidatePoolSize: w.ICECandidatePoolSize}
}
