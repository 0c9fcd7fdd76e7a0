package doctor

import (
	"context"
	"errors"
	"os"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/sublet/internal/core/config"
)

// ConfigCheck validates the loaded configuration.
type ConfigCheck struct {
	config     *config.Config
	configPath string
}

// NewConfigCheck creates a new configuration check.
func NewConfigCheck(cfg *config.Config, configPath string) *ConfigCheck {
	return &ConfigCheck{config: cfg, configPath: configPath}
}

func (c *ConfigCheck) Name() string {
	return "Configuration"
}

func (c *ConfigCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.config == nil {
		result.add(StatusFail, "Config loaded", "configuration not loaded")
		return result
	}

	if c.configPath != "" {
		detail := c.configPath
		if _, err := os.Stat(c.configPath); errors.Is(err, os.ErrNotExist) {
			detail = "not found, using defaults"
		}
		result.add(StatusPass, "Config file", detail)
	}

	err := c.config.Validate()
	warnings := c.config.Warnings()

	if err == nil && len(warnings) == 0 {
		result.add(StatusPass, "Config valid", "")
		return result
	}

	var fieldErrs criterio.FieldErrors
	switch {
	case err == nil:
	case errors.As(err, &fieldErrs):
		for _, fe := range fieldErrs {
			label := fe.Field
			if label == "" {
				label = "validation"
			}
			result.add(StatusFail, label, fe.Err.Error())
		}
	default:
		result.add(StatusFail, "validation", err.Error())
	}

	for _, w := range warnings {
		label := w.Category
		if w.Item != "" {
			label += " (" + w.Item + ")"
		}
		result.add(StatusWarn, label, w.Message)
	}

	return result
}
