// Package uci provides UCI-style configuration loading for the foresight daemon
package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the complete foresight configuration
type Config struct {
	// Core daemon control
	Enable   bool   `json:"enable"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Forecasting
	ForecastHorizon         int  `json:"forecast_horizon"`          // steps, hourly resolution, hard cap 24
	ContextLength           int  `json:"context_length"`            // hourly points needed before the primary model runs
	SampleIntervalS         int  `json:"sample_interval_s"`         // seconds between raw samples
	AggregateData           bool `json:"aggregate_data"`            // hourly aggregation of long histories
	EnableAnnualSeasonality bool `json:"enable_annual_seasonality"` // annual cosine adjustment

	// Statistical fallback model (p,d,q)(P,D,Q)_s
	AROrder               int  `json:"ar_order"`
	Differencing          int  `json:"differencing"`
	MAOrder               int  `json:"ma_order"`
	SeasonalAROrder       int  `json:"seasonal_ar_order"`
	SeasonalDiff          int  `json:"seasonal_diff"`
	SeasonalMAOrder       int  `json:"seasonal_ma_order"`
	SeasonalPeriodDaily   int  `json:"seasonal_period_daily"`
	SeasonalPeriodAnnual  int  `json:"seasonal_period_annual"`
	AutoDetectSeasonality bool `json:"auto_detect_seasonality"`

	// Accuracy tracking and model switching
	MAEThreshold  float64 `json:"mae_threshold"`
	MAEWindowSize int     `json:"mae_window_size"`

	// Primary model inference service (empty endpoint disables the primary tier)
	PrimaryEndpoint string `json:"primary_endpoint"`
	PrimaryTimeoutS int    `json:"primary_timeout_s"`

	// Telemetry store
	RetentionHours int `json:"retention_hours"`
	MaxRAMMB       int `json:"max_ram_mb"`

	// Scheduler
	ForecastIntervalS int `json:"forecast_interval_s"`

	// API server
	APIListener   bool   `json:"api_listener"`
	APIPort       int    `json:"api_port"`
	APIToken      string `json:"api_token"`
	APISecretHash string `json:"api_secret_hash"` // bcrypt hash alternative to the plain token

	// Metrics server
	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`

	// MQTT forecast publishing (results only, optional)
	MQTT MQTTConfig `json:"mqtt"`
}

// MQTTConfig represents MQTT publisher configuration
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
}

// Default configuration values
const (
	DefaultConfigPath = "/etc/config/foresight"

	DefaultForecastHorizon      = 24
	DefaultContextLength        = 168
	DefaultSampleIntervalS      = 3600
	DefaultMAEThreshold         = 5.0
	DefaultMAEWindowSize        = 168
	DefaultSeasonalPeriodDaily  = 24
	DefaultSeasonalPeriodAnnual = 365
	DefaultRetentionHours       = 168
	DefaultMaxRAMMB             = 16
	DefaultForecastIntervalS    = 3600
	DefaultPrimaryTimeoutS      = 30
	DefaultAPIPort              = 8043
	DefaultMetricsPort          = 9090

	// Hard cap on forecast steps regardless of configuration
	MaxForecastHorizon = 24
)

// LoadConfig loads configuration from a UCI-style file, applying defaults
// and environment overrides. A missing file yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := &Config{}
	cfg.setDefaults()

	if _, err := os.Stat(path); err == nil {
		if err := cfg.parseUCI(path); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.Enable = true
	c.LogLevel = "info"
	c.LogFile = ""

	c.ForecastHorizon = DefaultForecastHorizon
	c.ContextLength = DefaultContextLength
	c.SampleIntervalS = DefaultSampleIntervalS
	c.AggregateData = true
	c.EnableAnnualSeasonality = true

	c.AROrder = 1
	c.Differencing = 1
	c.MAOrder = 1
	c.SeasonalAROrder = 1
	c.SeasonalDiff = 1
	c.SeasonalMAOrder = 0
	c.SeasonalPeriodDaily = DefaultSeasonalPeriodDaily
	c.SeasonalPeriodAnnual = DefaultSeasonalPeriodAnnual
	c.AutoDetectSeasonality = true

	c.MAEThreshold = DefaultMAEThreshold
	c.MAEWindowSize = DefaultMAEWindowSize

	c.PrimaryEndpoint = ""
	c.PrimaryTimeoutS = DefaultPrimaryTimeoutS

	c.RetentionHours = DefaultRetentionHours
	c.MaxRAMMB = DefaultMaxRAMMB

	c.ForecastIntervalS = DefaultForecastIntervalS

	c.APIListener = true
	c.APIPort = DefaultAPIPort
	c.APIToken = ""
	c.APISecretHash = ""

	c.MetricsListener = false
	c.MetricsPort = DefaultMetricsPort

	c.MQTT = MQTTConfig{
		Enabled:     false,
		Broker:      "",
		Port:        1883,
		ClientID:    "foresight",
		TopicPrefix: "foresight",
		QoS:         1,
		Retain:      false,
	}
}

// parseUCI parses a UCI configuration file using simple text parsing
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	var currentSectionType string
	var currentSectionName string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "config ") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				currentSectionType = parts[1]
				currentSectionName = ""
				if len(parts) >= 3 {
					currentSectionName = strings.Trim(parts[2], "'\"")
				}
			}
		} else if strings.HasPrefix(line, "option ") {
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				optionName := parts[1]
				value := strings.Trim(strings.Join(parts[2:], " "), "'\"")
				c.parseOption(currentSectionType, currentSectionName, optionName, value)
			}
		}
	}

	return nil
}

// parseOption routes options to the appropriate section parser
func (c *Config) parseOption(sectionType, sectionName, option, value string) {
	switch sectionType {
	case "foresight":
		if sectionName == "main" || sectionName == "" {
			c.parseMainOption(option, value)
		}
	case "model":
		c.parseModelOption(sectionName, option, value)
	case "mqtt":
		c.parseMQTTOption(option, value)
	default:
		// Legacy single-section configs route everything to main
		if sectionType == "" {
			c.parseMainOption(option, value)
		}
	}
}

// parseMainOption parses core daemon configuration options
func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1"
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "forecast_horizon":
		if v, err := strconv.Atoi(value); err == nil {
			c.ForecastHorizon = v
		}
	case "context_length":
		if v, err := strconv.Atoi(value); err == nil {
			c.ContextLength = v
		}
	case "sample_interval_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.SampleIntervalS = v
		}
	case "aggregate_data":
		c.AggregateData = value == "1"
	case "enable_annual_seasonality":
		c.EnableAnnualSeasonality = value == "1"
	case "mae_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.MAEThreshold = v
		}
	case "mae_window_size":
		if v, err := strconv.Atoi(value); err == nil {
			c.MAEWindowSize = v
		}
	case "retention_hours":
		if v, err := strconv.Atoi(value); err == nil {
			c.RetentionHours = v
		}
	case "max_ram_mb":
		if v, err := strconv.Atoi(value); err == nil {
			c.MaxRAMMB = v
		}
	case "forecast_interval_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.ForecastIntervalS = v
		}
	case "api_listener":
		c.APIListener = value == "1"
	case "api_port":
		if v, err := strconv.Atoi(value); err == nil {
			c.APIPort = v
		}
	case "api_token":
		c.APIToken = value
	case "api_secret_hash":
		c.APISecretHash = value
	case "metrics_listener":
		c.MetricsListener = value == "1"
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil {
			c.MetricsPort = v
		}
	}
}

// parseModelOption parses model section options ('primary' and 'fallback' sections)
func (c *Config) parseModelOption(sectionName, option, value string) {
	switch sectionName {
	case "primary":
		switch option {
		case "endpoint":
			c.PrimaryEndpoint = value
		case "timeout_s":
			if v, err := strconv.Atoi(value); err == nil {
				c.PrimaryTimeoutS = v
			}
		}
	case "fallback":
		switch option {
		case "ar_order":
			if v, err := strconv.Atoi(value); err == nil {
				c.AROrder = v
			}
		case "differencing":
			if v, err := strconv.Atoi(value); err == nil {
				c.Differencing = v
			}
		case "ma_order":
			if v, err := strconv.Atoi(value); err == nil {
				c.MAOrder = v
			}
		case "seasonal_ar_order":
			if v, err := strconv.Atoi(value); err == nil {
				c.SeasonalAROrder = v
			}
		case "seasonal_diff":
			if v, err := strconv.Atoi(value); err == nil {
				c.SeasonalDiff = v
			}
		case "seasonal_ma_order":
			if v, err := strconv.Atoi(value); err == nil {
				c.SeasonalMAOrder = v
			}
		case "seasonal_period_daily":
			if v, err := strconv.Atoi(value); err == nil {
				c.SeasonalPeriodDaily = v
			}
		case "seasonal_period_annual":
			if v, err := strconv.Atoi(value); err == nil {
				c.SeasonalPeriodAnnual = v
			}
		case "auto_detect_seasonality":
			c.AutoDetectSeasonality = value == "1"
		}
	}
}

// parseMQTTOption parses MQTT publisher options
func (c *Config) parseMQTTOption(option, value string) {
	switch option {
	case "enabled":
		c.MQTT.Enabled = value == "1"
	case "broker":
		c.MQTT.Broker = value
	case "port":
		if v, err := strconv.Atoi(value); err == nil {
			c.MQTT.Port = v
		}
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "qos":
		if v, err := strconv.Atoi(value); err == nil {
			c.MQTT.QoS = v
		}
	case "retain":
		c.MQTT.Retain = value == "1"
	}
}

// applyEnvOverrides applies environment variable overrides after file parsing
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORECAST_HORIZON"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ForecastHorizon = n
		}
	}
	if v := os.Getenv("FORECAST_SAMPLE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SampleIntervalS = n
		}
	}
	if v := os.Getenv("FORESIGHT_PRIMARY_ENDPOINT"); v != "" {
		c.PrimaryEndpoint = v
	}
	if v := os.Getenv("FORESIGHT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// validate checks and normalizes the configuration
func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	if c.ForecastHorizon < 1 {
		c.ForecastHorizon = 1
	}
	if c.ForecastHorizon > MaxForecastHorizon {
		c.ForecastHorizon = MaxForecastHorizon
	}

	if c.ContextLength < 1 {
		return fmt.Errorf("context_length must be >= 1, got %d", c.ContextLength)
	}
	if c.SampleIntervalS < 1 {
		return fmt.Errorf("sample_interval_s must be >= 1, got %d", c.SampleIntervalS)
	}
	if c.MAEThreshold <= 0 {
		return fmt.Errorf("mae_threshold must be > 0, got %f", c.MAEThreshold)
	}
	if c.MAEWindowSize < 1 {
		return fmt.Errorf("mae_window_size must be >= 1, got %d", c.MAEWindowSize)
	}

	if c.AROrder < 1 {
		c.AROrder = 1
	}
	if c.Differencing < 0 {
		c.Differencing = 0
	}
	if c.SeasonalDiff < 0 {
		c.SeasonalDiff = 0
	}
	if c.SeasonalPeriodDaily < 2 {
		c.SeasonalPeriodDaily = DefaultSeasonalPeriodDaily
	}
	if c.SeasonalPeriodAnnual < 2 {
		c.SeasonalPeriodAnnual = DefaultSeasonalPeriodAnnual
	}

	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("retention_hours must be between 1 and 168, got %d", c.RetentionHours)
	}
	if c.MaxRAMMB < 1 || c.MaxRAMMB > 128 {
		return fmt.Errorf("max_ram_mb must be between 1 and 128, got %d", c.MaxRAMMB)
	}

	if c.ForecastIntervalS < 1 {
		return fmt.Errorf("forecast_interval_s must be >= 1, got %d", c.ForecastIntervalS)
	}

	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1 and 65535, got %d", c.MetricsPort)
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
