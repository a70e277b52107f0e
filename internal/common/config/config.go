// internal/common/config/config.go
package config

import (
	"net/url"
	"strings"
	"time"
)

// EndpointType values accepted in connector.endpoint_type.
const (
	EndpointTypeREST      = "REST"
	EndpointTypeWebSocket = "WEBSOCKET"
	// EndpointTypeSocketIO is accepted as an alias of WEBSOCKET. The streaming
	// adapter speaks plain websocket {event,payload} JSON frames, not the
	// Socket.IO/Engine.IO protocol.
	EndpointTypeSocketIO = "SOCKETIO"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Connector  ConnectorConfig  `mapstructure:"connector"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	API        APIConfig        `mapstructure:"api"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ConnectorConfig describes the chat endpoint and session seed.
type ConnectorConfig struct {
	URL          string `mapstructure:"url"`
	EndpointType string `mapstructure:"endpoint_type"`
	UserID       string `mapstructure:"user_id"`
	// Context is either a decoded object or a JSON-encoded string.
	Context          interface{} `mapstructure:"context"`
	URLToken         string      `mapstructure:"url_token"`
	RequestTimeout   int         `mapstructure:"request_timeout_ms"`
	HandshakeTimeout int         `mapstructure:"handshake_timeout_ms"`
}

// SocketURL derives the streaming endpoint (ws/wss) from the configured URL.
func (c ConnectorConfig) SocketURL() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

// Token returns the configured URL token, defaulting to the last path segment of the URL.
func (c ConnectorConfig) Token() string {
	if c.URLToken != "" {
		return c.URLToken
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

// AnalyticsConfig controls intent enrichment through the OData analytics endpoint.
type AnalyticsConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ODataURL       string `mapstructure:"odata_url"`
	APIKey         string `mapstructure:"api_key"`
	Collection     string `mapstructure:"collection"`
	Select         string `mapstructure:"select"`
	IntentField    string `mapstructure:"intent_field"`
	ScoreField     string `mapstructure:"score_field"`
	TimestampField string `mapstructure:"timestamp_field"`
	SessionField   string `mapstructure:"session_field"`
	Top            int    `mapstructure:"top"`
	Wait           int    `mapstructure:"wait_ms"`     // milliseconds
	Interval       int    `mapstructure:"interval_ms"` // milliseconds
}

// ExtractionConfig holds the provider-version dependent response paths.
type ExtractionConfig struct {
	DefaultRoots   []string `mapstructure:"default_roots"`
	PluginTypePath string   `mapstructure:"plugin_type_path"`
	DataPath       string   `mapstructure:"data_path"`
	TextPath       string   `mapstructure:"text_path"`
}

// APIConfig is used by the intent importer.
type APIConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type TranscriptConfig struct {
	Enable       bool   `mapstructure:"enable"`
	StreamPrefix string `mapstructure:"stream_prefix"`
	MaxLen       int64  `mapstructure:"max_len"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// Mode returns the normalized endpoint type, resolving the SOCKETIO alias.
func (c ConnectorConfig) Mode() string {
	mode := strings.ToUpper(strings.TrimSpace(c.EndpointType))
	if mode == EndpointTypeSocketIO {
		return EndpointTypeWebSocket
	}
	return mode
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
