package uci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/utils"
)

// NativeUCI provides direct UCI configuration access without exec calls.
// Named sections ("config foresight 'main'") are matched by name, bare
// sections ("config mqtt") by type.
type NativeUCI struct {
	configDir string
	logger    *logx.Logger
	mu        sync.RWMutex
	cache     map[string]cachedValue
	cacheTTL  time.Duration
}

// cachedValue represents a cached configuration value
type cachedValue struct {
	value     string
	timestamp time.Time
}

// NewNativeUCI creates a native UCI client rooted at the given config directory
func NewNativeUCI(configDir string, logger *logx.Logger) *NativeUCI {
	return &NativeUCI{
		configDir: configDir,
		logger:    logger,
		cache:     make(map[string]cachedValue),
		cacheTTL:  30 * time.Second,
	}
}

// Get retrieves a UCI configuration value with caching
func (n *NativeUCI) Get(ctx context.Context, config, section, option string) (string, error) {
	cacheKey := fmt.Sprintf("%s.%s.%s", config, section, option)

	n.mu.RLock()
	if cached, ok := n.cache[cacheKey]; ok && time.Since(cached.timestamp) < n.cacheTTL {
		n.mu.RUnlock()
		return cached.value, nil
	}
	n.mu.RUnlock()

	value, err := n.readOption(config, section, option)
	if err != nil {
		return "", fmt.Errorf("failed to read config %s.%s.%s: %w", config, section, option, err)
	}

	n.mu.Lock()
	n.cache[cacheKey] = cachedValue{value: value, timestamp: time.Now()}
	n.mu.Unlock()

	return value, nil
}

// Set writes a UCI configuration value directly to the config file,
// creating the section with the given type when it is missing
func (n *NativeUCI) Set(ctx context.Context, config, sectionType, section, option, value string) error {
	cacheKey := fmt.Sprintf("%s.%s.%s", config, section, option)
	n.mu.Lock()
	delete(n.cache, cacheKey)
	n.mu.Unlock()

	if err := n.writeOption(config, sectionType, section, option, value); err != nil {
		return fmt.Errorf("failed to write config %s.%s.%s: %w", config, section, option, err)
	}

	if n.logger != nil {
		n.logger.Debug("UCI config set", "config", config, "section", section, "option", option, "value", value)
	}
	return nil
}

// ClearCache clears the configuration cache
func (n *NativeUCI) ClearCache() {
	n.mu.Lock()
	n.cache = make(map[string]cachedValue)
	n.mu.Unlock()
}

// sectionMatches reports whether a "config ..." line opens the wanted section
func sectionMatches(line, section string) bool {
	parts := strings.Fields(line)
	if len(parts) >= 3 {
		return strings.Trim(parts[2], `"'`) == section
	}
	return len(parts) >= 2 && parts[1] == section
}

// readOption reads a configuration value directly from the UCI config file
func (n *NativeUCI) readOption(config, section, option string) (string, error) {
	configFile := filepath.Join(n.configDir, config)

	data, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	inTarget := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "config ") {
			inTarget = sectionMatches(line, section)
			continue
		}

		if inTarget && strings.HasPrefix(line, "option ") {
			parts := strings.Fields(line)
			if len(parts) >= 3 && parts[1] == option {
				return strings.Trim(strings.Join(parts[2:], " "), `"'`), nil
			}
		}
	}

	return "", fmt.Errorf("option %s not found in section %s", option, section)
}

// writeOption writes a configuration value directly to the UCI config file
func (n *NativeUCI) writeOption(config, sectionType, section, option, value string) error {
	configFile := filepath.Join(n.configDir, config)

	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(configFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	optionLine := fmt.Sprintf("\toption %s '%s'", option, value)
	lines := strings.Split(string(data), "\n")

	inTarget := false
	sectionIdx := -1
	replaced := false
	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "config ") {
			inTarget = sectionMatches(line, section)
			if inTarget && sectionIdx == -1 {
				sectionIdx = i
			}
			continue
		}

		if inTarget && strings.HasPrefix(line, "option ") {
			parts := strings.Fields(line)
			if len(parts) >= 2 && parts[1] == option {
				lines[i] = optionLine
				replaced = true
				break
			}
		}
	}

	switch {
	case replaced:
	case sectionIdx >= 0:
		// Section exists without the option, insert right after the header
		lines = append(lines[:sectionIdx+1], append([]string{optionLine}, lines[sectionIdx+1:]...)...)
	default:
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, fmt.Sprintf("config %s '%s'", sectionType, section), optionLine)
	}

	content := strings.Join(lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	// A crash mid-write must never leave a truncated config behind
	return utils.AtomicWriteFile(configFile, []byte(content), 0o644)
}
