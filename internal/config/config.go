package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	dbconfig "perceptor/pkg/database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database   *dbconfig.Config  `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Classifier *ClassifierConfig `json:"classifier"`
	Engine     *EngineConfig     `json:"engine"`
	Log        *LogConfig        `json:"log"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: Frames are base64 images, so the message limit is far
// above what a chat-style socket would need
type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
}

type ClassifierConfig struct {
	Address        string        `json:"address"`
	Timeout        time.Duration `json:"timeout"`
	MatchThreshold float64       `json:"match_threshold"`
}

// EngineConfig tunes the per-frame pipeline
type EngineConfig struct {
	ConsensusWindow time.Duration `json:"consensus_window"`
	FrameRateLimit  int           `json:"frame_rate_limit"`
	AlertDir        string        `json:"alert_dir"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// SQLite on the local filesystem, model service on localhost, 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      100,
			MaxMessageBytes: 8 << 20,
		},
		Classifier: &ClassifierConfig{
			Address:        "localhost:50051",
			Timeout:        5 * time.Second,
			MatchThreshold: 0.4,
		},
		Engine: &EngineConfig{
			ConsensusWindow: 2 * time.Second,
			FrameRateLimit:  30,
			AlertDir:        "./data/alerts",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Classifier == nil {
		return fmt.Errorf("classifier configuration is required")
	}
	if c.Classifier.Address == "" {
		return fmt.Errorf("classifier address cannot be empty")
	}
	if c.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}
	if c.Classifier.MatchThreshold <= 0 || c.Classifier.MatchThreshold > 1 {
		return fmt.Errorf("classifier match threshold must be in (0, 1]")
	}

	if c.Engine == nil {
		return fmt.Errorf("engine configuration is required")
	}
	if c.Engine.ConsensusWindow <= 0 {
		return fmt.Errorf("consensus window must be positive")
	}
	if c.Engine.FrameRateLimit <= 0 {
		return fmt.Errorf("frame rate limit must be positive")
	}
	if c.Engine.AlertDir == "" {
		return fmt.Errorf("alert directory cannot be empty")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json")
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values are ignored and the previous value is kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("PERCEPTOR_DATABASE_DRIVER", &c.Database.Driver)
	envString("PERCEPTOR_DATABASE_PATH", &c.Database.Path)
	envString("PERCEPTOR_DATABASE_URL", &c.Database.URL)
	envInt("PERCEPTOR_DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	envInt("PERCEPTOR_HTTP_PORT", &c.HTTP.Port)
	envString("PERCEPTOR_HTTP_HOST", &c.HTTP.Host)
	envDuration("PERCEPTOR_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("PERCEPTOR_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)

	envDuration("PERCEPTOR_WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("PERCEPTOR_WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("PERCEPTOR_WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("PERCEPTOR_WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	if v := os.Getenv("PERCEPTOR_WEBSOCKET_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageBytes = n
		}
	}

	envString("PERCEPTOR_CLASSIFIER_ADDRESS", &c.Classifier.Address)
	envDuration("PERCEPTOR_CLASSIFIER_TIMEOUT", &c.Classifier.Timeout)
	if v := os.Getenv("PERCEPTOR_CLASSIFIER_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.MatchThreshold = f
		}
	}

	envDuration("PERCEPTOR_ENGINE_CONSENSUS_WINDOW", &c.Engine.ConsensusWindow)
	envInt("PERCEPTOR_ENGINE_FRAME_RATE_LIMIT", &c.Engine.FrameRateLimit)
	envString("PERCEPTOR_ENGINE_ALERT_DIR", &c.Engine.AlertDir)

	envString("PERCEPTOR_LOG_LEVEL", &c.Log.Level)
	envString("PERCEPTOR_LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings
type ConfigFile struct {
	Database   *DatabaseConfigFile   `json:"database" yaml:"database"`
	HTTP       *HTTPConfigFile       `json:"http" yaml:"http"`
	WebSocket  *WebSocketConfigFile  `json:"websocket" yaml:"websocket"`
	Classifier *ClassifierConfigFile `json:"classifier" yaml:"classifier"`
	Engine     *EngineConfigFile     `json:"engine" yaml:"engine"`
	Log        *LogConfig            `json:"log" yaml:"log"`
}

type DatabaseConfigFile struct {
	Driver          string `json:"driver" yaml:"driver"`
	Path            string `json:"path" yaml:"path"`
	URL             string `json:"url" yaml:"url"`
	MaxConnections  int    `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime string `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
	Host         string `json:"host" yaml:"host"`
}

type WebSocketConfigFile struct {
	PingInterval    string `json:"ping_interval" yaml:"ping_interval"`
	ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
	BufferSize      int    `json:"buffer_size" yaml:"buffer_size"`
	MaxMessageBytes int64  `json:"max_message_bytes" yaml:"max_message_bytes"`
}

type ClassifierConfigFile struct {
	Address        string  `json:"address" yaml:"address"`
	Timeout        string  `json:"timeout" yaml:"timeout"`
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`
}

type EngineConfigFile struct {
	ConsensusWindow string `json:"consensus_window" yaml:"consensus_window"`
	FrameRateLimit  int    `json:"frame_rate_limit" yaml:"frame_rate_limit"`
	AlertDir        string `json:"alert_dir" yaml:"alert_dir"`
}

// LoadFromFile reads a JSON or YAML file (chosen by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(field, v string, dst *time.Duration) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		setString(&c.Database.Driver, f.Driver)
		setString(&c.Database.Path, f.Path)
		setString(&c.Database.URL, f.URL)
		setInt(&c.Database.MaxConnections, f.MaxConnections)
		duration("database.conn_max_lifetime", f.ConnMaxLifetime, &c.Database.ConnMaxLifetime)
		duration("database.conn_max_idle_time", f.ConnMaxIdleTime, &c.Database.ConnMaxIdleTime)
	}
	if f := file.HTTP; f != nil {
		setInt(&c.HTTP.Port, f.Port)
		setString(&c.HTTP.Host, f.Host)
		duration("http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		setInt(&c.WebSocket.BufferSize, f.BufferSize)
		if f.MaxMessageBytes > 0 {
			c.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
		duration("websocket.ping_interval", f.PingInterval, &c.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &c.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout)
	}
	if f := file.Classifier; f != nil {
		setString(&c.Classifier.Address, f.Address)
		if f.MatchThreshold > 0 {
			c.Classifier.MatchThreshold = f.MatchThreshold
		}
		duration("classifier.timeout", f.Timeout, &c.Classifier.Timeout)
	}
	if f := file.Engine; f != nil {
		setInt(&c.Engine.FrameRateLimit, f.FrameRateLimit)
		setString(&c.Engine.AlertDir, f.AlertDir)
		duration("engine.consensus_window", f.ConsensusWindow, &c.Engine.ConsensusWindow)
	}
	if f := file.Log; f != nil {
		setString(&c.Log.Level, f.Level)
		setString(&c.Log.Format, f.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", path, errors.Join(errs...))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// LoadConfigWithPrecedence builds the runtime configuration
// FUNCTIONAL DISCOVERY: Precedence is file > environment > .env > defaults.
// A missing .env is normal; a named config file that fails to load is not.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	// godotenv never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
