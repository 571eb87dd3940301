package uci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// ConfigManager ensures the foresight UCI config exists and carries every
// required option. It provisions through the uci tool when available and
// falls back to direct file writes otherwise.
type ConfigManager struct {
	client *UCI
	native *NativeUCI
	logger *logx.Logger
}

// NewConfigManager creates a new config manager
func NewConfigManager(client *UCI, native *NativeUCI, logger *logx.Logger) *ConfigManager {
	return &ConfigManager{
		client: client,
		native: native,
		logger: logger,
	}
}

// requiredSection describes one section the daemon expects to exist
type requiredSection struct {
	name        string
	sectionType string
	options     map[string]string
}

// requiredSections lists every section and option with its default value
func requiredSections() []requiredSection {
	return []requiredSection{
		{
			name:        "main",
			sectionType: "foresight",
			options: map[string]string{
				"enable":                    "1",
				"log_level":                 "info",
				"log_file":                  "",
				"forecast_horizon":          "24",
				"context_length":            "168",
				"sample_interval_s":         "3600",
				"aggregate_data":            "1",
				"enable_annual_seasonality": "1",
				"mae_threshold":             "5.0",
				"mae_window_size":           "168",
				"retention_hours":           "168",
				"max_ram_mb":                "16",
				"forecast_interval_s":       "3600",
				"api_listener":              "1",
				"api_port":                  "8043",
				"api_token":                 "",
				"api_secret_hash":           "",
				"metrics_listener":          "0",
				"metrics_port":              "9090",
			},
		},
		{
			name:        "primary",
			sectionType: "model",
			options: map[string]string{
				"endpoint":  "",
				"timeout_s": "30",
			},
		},
		{
			name:        "fallback",
			sectionType: "model",
			options: map[string]string{
				"ar_order":                "1",
				"differencing":            "1",
				"ma_order":                "1",
				"seasonal_ar_order":       "1",
				"seasonal_diff":           "1",
				"seasonal_ma_order":       "0",
				"seasonal_period_daily":   "24",
				"seasonal_period_annual":  "365",
				"auto_detect_seasonality": "1",
			},
		},
		{
			name:        "mqtt",
			sectionType: "mqtt",
			options: map[string]string{
				"enabled":      "0",
				"broker":       "",
				"port":         "1883",
				"client_id":    "foresight",
				"username":     "",
				"password":     "",
				"topic_prefix": "foresight",
				"qos":          "1",
				"retain":       "0",
			},
		},
	}
}

// EnsureRequiredConfig ensures all required configuration sections and options exist
func (cm *ConfigManager) EnsureRequiredConfig(ctx context.Context) error {
	if err := cm.ensureConfigFileExists(); err != nil {
		return fmt.Errorf("failed to ensure config file exists: %w", err)
	}

	if err := cm.client.ValidateUCI(ctx); err != nil {
		cm.logger.Info("uci tool not available, writing defaults directly", "error", err)
		return cm.ensureNative(ctx)
	}

	for _, section := range requiredSections() {
		if err := cm.ensureSection(ctx, section); err != nil {
			return fmt.Errorf("failed to ensure section %s: %w", section.name, err)
		}
	}

	cm.logger.Info("Required foresight configuration ensured")
	return nil
}

// ensureSection ensures a section exists with all required options
func (cm *ConfigManager) ensureSection(ctx context.Context, section requiredSection) error {
	if !cm.client.HasSection(ctx, section.name) {
		cm.logger.Info("Creating missing config section", "section", section.name, "type", section.sectionType)
		if err := cm.client.AddNamedSection(ctx, section.sectionType, section.name); err != nil {
			return err
		}
	}

	for option, defaultValue := range section.options {
		if _, err := cm.client.GetOption(ctx, section.name, option); err != nil {
			cm.logger.Debug("Setting missing option", "section", section.name, "option", option, "value", defaultValue)
			if err := cm.client.SetOption(ctx, section.name, option, defaultValue); err != nil {
				return fmt.Errorf("failed to set option %s.%s: %w", section.name, option, err)
			}
		}
	}

	return nil
}

// ensureNative provisions missing options through direct file writes
func (cm *ConfigManager) ensureNative(ctx context.Context) error {
	for _, section := range requiredSections() {
		for option, defaultValue := range section.options {
			if _, err := cm.native.Get(ctx, "foresight", section.name, option); err == nil {
				continue
			}
			if err := cm.native.Set(ctx, "foresight", section.sectionType, section.name, option, defaultValue); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureConfigFileExists creates an empty config file so uci can operate on it
func (cm *ConfigManager) ensureConfigFileExists() error {
	path := filepath.Join(cm.native.configDir, "foresight")

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	cm.logger.Info("Creating foresight config file", "path", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, nil, 0o644)
}

// Commit commits the configuration changes
func (cm *ConfigManager) Commit(ctx context.Context) error {
	if err := cm.client.ValidateUCI(ctx); err != nil {
		// Direct file writes need no commit step
		return nil
	}
	if err := cm.client.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit configuration: %w", err)
	}
	return nil
}
