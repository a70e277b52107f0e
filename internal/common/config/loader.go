// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "cognigy-connector/internal/common/errors"
	"cognigy-connector/internal/common/validation"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Flat environment names accepted alongside the nested keys.
var envBindings = map[string]string{
	"connector.url":           "COGNIGY_URL",
	"connector.endpoint_type": "COGNIGY_ENDPOINT_TYPE",
	"connector.user_id":       "COGNIGY_USER_ID",
	"connector.context":       "COGNIGY_CONTEXT",
	"analytics.enable":        "COGNIGY_NLP_ANALYTICS_ENABLE",
	"analytics.odata_url":     "COGNIGY_NLP_ANALYTICS_ODATA_URL",
	"analytics.api_key":       "COGNIGY_NLP_ANALYTICS_ODATA_APIKEY",
	"analytics.wait_ms":       "COGNIGY_NLP_ANALYTICS_WAIT",
	"api.url":                 "COGNIGY_API_URL",
	"api.api_key":             "COGNIGY_API_APIKEY",
}

func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.NewConfigurationError("error reading base config", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
	}
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigurationError("failed to unmarshal config", err)
	}
	if err := restoreContextKeys(v, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// restoreContextKeys re-reads an object-form connector.context from the config
// file, since viper folds map keys to lower case.
func restoreContextKeys(v *viper.Viper, cfg *Config) error {
	if _, isString := cfg.Connector.Context.(string); isString || cfg.Connector.Context == nil {
		return nil
	}
	path := v.ConfigFileUsed()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewConfigurationError("failed to re-read connector.context", err)
	}
	var raw struct {
		Connector struct {
			Context interface{} `yaml:"context"`
		} `yaml:"connector"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return apperrors.NewConfigurationError("failed to parse connector.context", err)
	}
	if raw.Connector.Context != nil {
		cfg.Connector.Context = raw.Connector.Context
	}
	return nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// ApplyDefaults sets default values for optional configuration fields
func ApplyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "cognigy-connector"
	}

	if cfg.Connector.EndpointType == "" {
		cfg.Connector.EndpointType = EndpointTypeREST
	}
	cfg.Connector.EndpointType = cfg.Connector.Mode()
	if cfg.Connector.RequestTimeout == 0 {
		cfg.Connector.RequestTimeout = 30000
	}
	if cfg.Connector.HandshakeTimeout == 0 {
		cfg.Connector.HandshakeTimeout = 10000
	}

	// Analytics defaults
	a := &cfg.Analytics
	if a.Collection == "" {
		// v2.0 of the OData service renamed the records collection.
		if strings.Contains(a.ODataURL, "v2.0") {
			a.Collection = "Inputs"
		} else {
			a.Collection = "Records"
		}
	}
	if a.IntentField == "" {
		a.IntentField = "intent"
	}
	if a.ScoreField == "" {
		a.ScoreField = "intentScore"
	}
	if a.TimestampField == "" {
		a.TimestampField = "timestamp"
	}
	if a.SessionField == "" {
		a.SessionField = "sessionId"
	}
	if a.Select == "" {
		a.Select = strings.Join([]string{a.IntentField, a.ScoreField, a.TimestampField}, ",")
	}
	if a.Top == 0 {
		a.Top = 100000
	}
	if a.Wait == 0 {
		a.Wait = 5000
	}
	if a.Interval == 0 {
		a.Interval = 1000
	}

	// Extraction defaults
	e := &cfg.Extraction
	if len(e.DefaultRoots) == 0 {
		e.DefaultRoots = []string{"data._data._cognigy._default", "data._cognigy._default"}
	}
	if e.PluginTypePath == "" {
		e.PluginTypePath = "data._plugin.type"
	}
	if e.DataPath == "" {
		e.DataPath = "data"
	}
	if e.TextPath == "" {
		e.TextPath = "text"
	}

	if cfg.API.APIKey == "" {
		cfg.API.APIKey = cfg.Analytics.APIKey
	}

	if cfg.Transcript.StreamPrefix == "" {
		cfg.Transcript.StreamPrefix = "cognigy:transcript:"
	}
	if cfg.Transcript.MaxLen == 0 {
		cfg.Transcript.MaxLen = 1000
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// Validate checks the settings required before any traffic is sent.
func Validate(cfg *Config) error {
	if cfg.Connector.URL == "" {
		return apperrors.NewMissingSettingError("connector.url", "")
	}
	if !validation.ValidateURL(cfg.Connector.URL, "http", "https", "ws", "wss") {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("connector.url %q is not an absolute http(s) or ws(s) url", cfg.Connector.URL), nil)
	}

	switch cfg.Connector.Mode() {
	case EndpointTypeREST, EndpointTypeWebSocket:
	default:
		return apperrors.NewConfigurationError(
			fmt.Sprintf("connector.endpoint_type %q is not supported", cfg.Connector.EndpointType), nil)
	}

	if cfg.Analytics.Enable {
		if cfg.Analytics.ODataURL == "" {
			return apperrors.NewMissingSettingError("analytics.odata_url", "if NLP analytics enabled")
		}
		if !validation.ValidateURL(cfg.Analytics.ODataURL, "http", "https") {
			return apperrors.NewConfigurationError(
				fmt.Sprintf("analytics.odata_url %q is not an absolute http(s) url", cfg.Analytics.ODataURL), nil)
		}
		if cfg.Analytics.APIKey == "" {
			return apperrors.NewMissingSettingError("analytics.api_key", "if NLP analytics enabled")
		}
		if cfg.Analytics.Interval < 0 || cfg.Analytics.Wait < 0 {
			return apperrors.NewConfigurationError("analytics wait and interval must not be negative", nil)
		}
	}

	if cfg.Transcript.Enable && cfg.Redis.Address == "" {
		return apperrors.NewMissingSettingError("redis.address", "if transcript enabled")
	}

	return nil
}
