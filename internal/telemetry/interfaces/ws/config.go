package ws

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	telemetry "telemetry-ws/internal/telemetry/domain"
)

// DefaultPath is the websocket endpoint of the telemetry plugin.
const DefaultPath = "/api/ws/plugins/telemetry"

// Config defines websocket endpoint settings.
type Config struct {
	Path           string        `yaml:"path"`
	ReadLimit      int64         `yaml:"read_limit"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AttributeScope string        `yaml:"attribute_scope"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Path:           DefaultPath,
		ReadLimit:      64 << 10,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		AttributeScope: telemetry.ClientScope,
	}
}

// LoadConfig builds the config from defaults, the yaml file named by
// WS_CONFIG, and env overrides, in that order.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("WS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("telemetry ws: parse %s: %w", path, err)
		}
	}

	if value := os.Getenv("WS_PATH"); value != "" {
		cfg.Path = value
	}
	if value := os.Getenv("WS_SEND_BUFFER"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return cfg, fmt.Errorf("telemetry ws: invalid WS_SEND_BUFFER: %w", err)
		}
		cfg.SendBuffer = parsed
	}
	if value := os.Getenv("WS_ALLOWED_ORIGINS"); value != "" {
		cfg.AllowedOrigins = splitCSV(value)
	}
	return cfg, cfg.Validate()
}

// Validate checks config invariants.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.New("telemetry ws: path must start with /")
	}
	if c.SendBuffer <= 0 {
		return errors.New("telemetry ws: send buffer must be positive")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("telemetry ws: pong wait must exceed ping interval")
	}
	switch c.AttributeScope {
	case telemetry.ClientScope, telemetry.ServerScope, telemetry.SharedScope:
	default:
		return fmt.Errorf("telemetry ws: unknown attribute scope %q", c.AttributeScope)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
