package uci

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

func testNative(t *testing.T) (*NativeUCI, string) {
	t.Helper()
	dir := t.TempDir()
	return NewNativeUCI(dir, logx.NewLogger("error", "test")), dir
}

func writeNativeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "foresight"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestNativeUCI_GetNamedSection(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption api_port '9000'\n\nconfig model 'primary'\n\toption endpoint 'localhost:50051'\n")

	got, err := native.Get(context.Background(), "foresight", "main", "api_port")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "9000" {
		t.Errorf("Get() = %q, want 9000", got)
	}

	got, err = native.Get(context.Background(), "foresight", "primary", "endpoint")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "localhost:50051" {
		t.Errorf("Get() = %q, want localhost:50051", got)
	}
}

func TestNativeUCI_GetBareSectionByType(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config mqtt\n\toption broker 'broker.local'\n")

	got, err := native.Get(context.Background(), "foresight", "mqtt", "broker")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "broker.local" {
		t.Errorf("Get() = %q, want broker.local", got)
	}
}

func TestNativeUCI_GetValueWithSpaces(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption log_file '/var/log/fore sight.log'\n")

	got, err := native.Get(context.Background(), "foresight", "main", "log_file")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "/var/log/fore sight.log" {
		t.Errorf("Get() = %q, want the unquoted path", got)
	}
}

func TestNativeUCI_GetMissingOption(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption enable '1'\n")

	if _, err := native.Get(context.Background(), "foresight", "main", "nonexistent"); err == nil {
		t.Error("Get() should fail for a missing option")
	}
	if _, err := native.Get(context.Background(), "foresight", "other", "enable"); err == nil {
		t.Error("Get() should fail for a missing section")
	}
}

func TestNativeUCI_CacheServesRepeatReads(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption api_port '9000'\n")

	if _, err := native.Get(context.Background(), "foresight", "main", "api_port"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// An external edit is invisible until the cache is cleared
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption api_port '9001'\n")

	got, err := native.Get(context.Background(), "foresight", "main", "api_port")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "9000" {
		t.Errorf("Get() = %q, want cached 9000", got)
	}

	native.ClearCache()
	got, err = native.Get(context.Background(), "foresight", "main", "api_port")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "9001" {
		t.Errorf("Get() = %q, want fresh 9001", got)
	}
}

func TestNativeUCI_SetReplacesValue(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption api_port '9000'\n")

	if err := native.Set(context.Background(), "foresight", "foresight", "main", "api_port", "8043"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := native.Get(context.Background(), "foresight", "main", "api_port")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "8043" {
		t.Errorf("Get() = %q, want 8043 after replace", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "foresight"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if strings.Count(string(data), "api_port") != 1 {
		t.Errorf("config file should contain api_port exactly once:\n%s", data)
	}
}

func TestNativeUCI_SetInsertsIntoExistingSection(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption enable '1'\n\nconfig mqtt 'mqtt'\n\toption enabled '0'\n")

	if err := native.Set(context.Background(), "foresight", "foresight", "main", "api_port", "8043"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	for _, probe := range []struct{ section, option, want string }{
		{"main", "api_port", "8043"},
		{"main", "enable", "1"},
		{"mqtt", "enabled", "0"},
	} {
		got, err := native.Get(context.Background(), "foresight", probe.section, probe.option)
		if err != nil {
			t.Fatalf("Get(%s.%s) error = %v", probe.section, probe.option, err)
		}
		if got != probe.want {
			t.Errorf("Get(%s.%s) = %q, want %q", probe.section, probe.option, got, probe.want)
		}
	}
}

func TestNativeUCI_SetCreatesFileAndSection(t *testing.T) {
	native, dir := testNative(t)

	if err := native.Set(context.Background(), "foresight", "model", "primary", "endpoint", "localhost:50051"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "foresight"))
	if err != nil {
		t.Fatalf("config file should have been created: %v", err)
	}
	if !strings.Contains(string(data), "config model 'primary'") {
		t.Errorf("config file missing section header:\n%s", data)
	}

	got, err := native.Get(context.Background(), "foresight", "primary", "endpoint")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "localhost:50051" {
		t.Errorf("Get() = %q, want localhost:50051", got)
	}
}

func TestNativeUCI_SetLeavesNoTempFiles(t *testing.T) {
	native, dir := testNative(t)
	writeNativeConfig(t, dir, "config foresight 'main'\n\toption api_port '9000'\n")

	if err := native.Set(context.Background(), "foresight", "foresight", "main", "api_port", "8043"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "foresight" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("config dir contains %v, want only the config file", names)
	}
}

func TestConfigManager_EnsureNativeProvisionsDefaults(t *testing.T) {
	native, dir := testNative(t)
	logger := logx.NewLogger("error", "test")
	cm := NewConfigManager(NewUCI(logger), native, logger)

	if err := cm.ensureConfigFileExists(); err != nil {
		t.Fatalf("ensureConfigFileExists() error = %v", err)
	}
	if err := cm.ensureNative(context.Background()); err != nil {
		t.Fatalf("ensureNative() error = %v", err)
	}

	// The provisioned file must round-trip through the config loader
	cfg, err := LoadConfig(filepath.Join(dir, "foresight"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ForecastHorizon != DefaultForecastHorizon {
		t.Errorf("ForecastHorizon = %d, want %d", cfg.ForecastHorizon, DefaultForecastHorizon)
	}
	if cfg.ContextLength != DefaultContextLength {
		t.Errorf("ContextLength = %d, want %d", cfg.ContextLength, DefaultContextLength)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.PrimaryTimeoutS != DefaultPrimaryTimeoutS {
		t.Errorf("PrimaryTimeoutS = %d, want %d", cfg.PrimaryTimeoutS, DefaultPrimaryTimeoutS)
	}
}

func TestConfigManager_EnsureNativePreservesExisting(t *testing.T) {
	native, dir := testNative(t)
	logger := logx.NewLogger("error", "test")
	cm := NewConfigManager(NewUCI(logger), native, logger)

	writeNativeConfig(t, dir, "config foresight 'main'\n\toption forecast_horizon '12'\n")

	if err := cm.ensureNative(context.Background()); err != nil {
		t.Fatalf("ensureNative() error = %v", err)
	}

	cfg, err := LoadConfig(filepath.Join(dir, "foresight"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ForecastHorizon != 12 {
		t.Errorf("ForecastHorizon = %d, existing value should be preserved", cfg.ForecastHorizon)
	}
	if cfg.RetentionHours != DefaultRetentionHours {
		t.Errorf("RetentionHours = %d, missing options should get defaults", cfg.RetentionHours)
	}
}
