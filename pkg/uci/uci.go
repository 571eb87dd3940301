package uci

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// UCI represents a UCI client backed by the uci command line tool
type UCI struct {
	logger *logx.Logger
}

// NewUCI creates a new UCI client
func NewUCI(logger *logx.Logger) *UCI {
	return &UCI{
		logger: logger,
	}
}

// GetOption reads a UCI option from the foresight config
func (u *UCI) GetOption(ctx context.Context, section, option string) (string, error) {
	output, err := u.execUCI(ctx, "get", fmt.Sprintf("foresight.%s.%s", section, option))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// SetOption sets a UCI option in the foresight config
func (u *UCI) SetOption(ctx context.Context, section, option, value string) error {
	_, err := u.execUCI(ctx, "set", fmt.Sprintf("foresight.%s.%s=%s", section, option, value))
	return err
}

// DeleteOption deletes a UCI option from the foresight config
func (u *UCI) DeleteOption(ctx context.Context, section, option string) error {
	_, err := u.execUCI(ctx, "delete", fmt.Sprintf("foresight.%s.%s", section, option))
	return err
}

// AddNamedSection creates a named section of the given type
func (u *UCI) AddNamedSection(ctx context.Context, sectionType, sectionName string) error {
	_, err := u.execUCI(ctx, "set", fmt.Sprintf("foresight.%s=%s", sectionName, sectionType))
	return err
}

// HasSection reports whether a named section exists
func (u *UCI) HasSection(ctx context.Context, sectionName string) bool {
	_, err := u.execUCI(ctx, "show", fmt.Sprintf("foresight.%s", sectionName))
	return err == nil
}

// Commit commits pending UCI changes
func (u *UCI) Commit(ctx context.Context) error {
	_, err := u.execUCI(ctx, "commit", "foresight")
	return err
}

// Revert reverts pending UCI changes
func (u *UCI) Revert(ctx context.Context) error {
	_, err := u.execUCI(ctx, "revert", "foresight")
	return err
}

// ValidateUCI checks if UCI is available and working
func (u *UCI) ValidateUCI(ctx context.Context) error {
	_, err := u.execUCI(ctx, "version")
	if err != nil {
		return fmt.Errorf("UCI is not available: %w", err)
	}
	return nil
}

// execUCI executes a UCI command
func (u *UCI) execUCI(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "uci", args...)
	output, err := cmd.Output()
	if err != nil {
		if u.logger != nil {
			u.logger.Debug("UCI command failed", "command", "uci "+strings.Join(args, " "), "error", err)
		}
		return "", fmt.Errorf("uci command failed: %w", err)
	}

	return string(output), nil
}
