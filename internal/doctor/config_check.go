package doctor

import (
	"errors"
	"fmt"

	"github.com/rjwalters/loom-sub010/internal/config"
)

// ConfigCheck verifies the fleet config parses and validates.
type ConfigCheck struct {
	BaseCheck
}

// NewConfigCheck creates a new config validation check.
func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{
		BaseCheck: BaseCheck{
			CheckName:        "config",
			CheckDescription: "Check that config.toml parses and validates",
			CheckCategory:    CategoryConfig,
		},
	}
}

// Run loads and validates the config file.
func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	cfg, err := config.Load(ctx.Root)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return &CheckResult{
				Name:    c.Name(),
				Status:  StatusWarning,
				Message: "No config.toml found, defaults in effect",
				FixHint: "Run 'shep init' to write a default config",
			}
		}
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "config.toml failed to load",
			Details: []string{err.Error()},
			FixHint: "Fix the reported field in .shepherd/config.toml",
		}
	}

	details := []string{
		fmt.Sprintf("max_shepherds: %d", cfg.Fleet.MaxShepherds),
		fmt.Sprintf("tracker: %s", cfg.Tracker.Command),
		fmt.Sprintf("roles: %d", len(cfg.Roles)),
	}

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: "config.toml loads and validates",
		Details: details,
	}
}
