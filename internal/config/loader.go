package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"plannedoutage/internal/vector"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file looked up in the config directory
	FileName = "plannedoutage.yaml"

	DefaultScanInterval    = 60 * time.Minute
	MinScanInterval        = time.Minute
	DefaultRefreshEntity   = "input_button.refresh_planned_outages"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "plannedoutage"
)

// Duration is a time.Duration that unmarshals from strings like "60m"
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MQTTConfig enables publishing the sensors through MQTT discovery
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// PlannedOutageConfig represents the plannedoutage.yaml structure
type PlannedOutageConfig struct {
	ICPNumber       string      `yaml:"icp_number"`
	APIKey          string      `yaml:"api_key"`
	Endpoint        string      `yaml:"endpoint"`
	TimezoneGroup   string      `yaml:"timezone_group"`
	ScanInterval    Duration    `yaml:"scan_interval"`
	RequestTimeout  Duration    `yaml:"request_timeout"`
	NotifyNewOutage bool        `yaml:"notify_new_outage"`
	RefreshEntity   string      `yaml:"refresh_entity"`
	MQTT            *MQTTConfig `yaml:"mqtt,omitempty"`
}

// applyDefaults fills every optional field that was left empty
func (c *PlannedOutageConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = vector.DefaultEndpoint
	}
	if c.TimezoneGroup == "" {
		c.TimezoneGroup = vector.DefaultTimezoneGroup
	}
	if c.ScanInterval.Duration == 0 {
		c.ScanInterval.Duration = DefaultScanInterval
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout.Duration = vector.DefaultTimeout
	}
	if c.RefreshEntity == "" {
		c.RefreshEntity = DefaultRefreshEntity
	}
	if c.MQTT != nil {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "plannedoutage-" + strings.ToLower(c.ICPNumber)
		}
		if c.MQTT.DiscoveryPrefix == "" {
			c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
}

// Validate reports every problem with the configuration at once
func (c *PlannedOutageConfig) Validate() error {
	var problems []error

	if strings.TrimSpace(c.ICPNumber) == "" {
		problems = append(problems, &ValidationError{Field: "icp_number", Message: "is required"})
	}
	if strings.TrimSpace(c.APIKey) == "" {
		problems = append(problems, &ValidationError{Field: "api_key", Message: "is required (set api_key or VECTOR_API_KEY)"})
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		problems = append(problems, &ValidationError{Field: "endpoint", Value: c.Endpoint, Message: "must be an http(s) URL"})
	}
	if c.ScanInterval.Duration < MinScanInterval {
		problems = append(problems, &ValidationError{
			Field:   "scan_interval",
			Value:   c.ScanInterval.String(),
			Message: fmt.Sprintf("must be at least %s", MinScanInterval),
		})
	}
	if c.RequestTimeout.Duration <= 0 {
		problems = append(problems, &ValidationError{Field: "request_timeout", Value: c.RequestTimeout.String(), Message: "must be positive"})
	}
	if !strings.Contains(c.RefreshEntity, ".") {
		problems = append(problems, &ValidationError{Field: "refresh_entity", Value: c.RefreshEntity, Message: "must be a full entity ID"})
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		problems = append(problems, &ValidationError{Field: "mqtt.broker", Message: "is required when mqtt is configured"})
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Join(problems...)
}

// Loader loads the plugin configuration from the config directory
type Loader struct {
	configDir     string
	logger        *zap.Logger
	getenv        func(string) string
	plannedOutage *PlannedOutageConfig
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
		getenv:    os.Getenv,
	}
}

// LoadAll loads all configuration files
func (l *Loader) LoadAll() error {
	l.logger.Info("Loading configuration files", zap.String("dir", l.configDir))

	if err := l.LoadPlannedOutageConfig(); err != nil {
		return fmt.Errorf("failed to load planned outage config: %w", err)
	}

	l.logger.Info("All configuration files loaded successfully")
	return nil
}

// LoadPlannedOutageConfig loads plannedoutage.yaml. A missing file is
// allowed when ICP_NUMBER and VECTOR_API_KEY supply the required values.
func (l *Loader) LoadPlannedOutageConfig() error {
	path := filepath.Join(l.configDir, FileName)
	l.logger.Debug("Loading planned outage config", zap.String("path", path))

	var cfg PlannedOutageConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.logger.Warn("Config file not found, relying on environment", zap.String("path", path))
	case err != nil:
		return fmt.Errorf("failed to read planned outage config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse planned outage config: %w", err)
		}
	}

	l.applyEnvOverrides(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	l.plannedOutage = &cfg
	l.logger.Info("Planned outage config loaded successfully",
		zap.String("icp_number", cfg.ICPNumber),
		zap.Duration("scan_interval", cfg.ScanInterval.Duration),
		zap.Bool("mqtt", cfg.MQTT != nil))
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *PlannedOutageConfig) {
	if v := l.getenv("ICP_NUMBER"); v != "" {
		cfg.ICPNumber = v
	}
	if v := l.getenv("VECTOR_API_KEY"); v != "" {
		cfg.APIKey = v
	}
}

// GetPlannedOutageConfig returns the loaded configuration. The returned
// value is a copy so callers cannot mutate the loader's state.
func (l *Loader) GetPlannedOutageConfig() *PlannedOutageConfig {
	if l.plannedOutage == nil {
		return nil
	}
	cfg := *l.plannedOutage
	if cfg.MQTT != nil {
		mqtt := *cfg.MQTT
		cfg.MQTT = &mqtt
	}
	return &cfg
}
