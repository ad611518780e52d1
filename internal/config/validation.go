package config

import (
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/osfoffline/osfsync/internal/mirror/db"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if drivers := db.Drivers(); !slices.Contains(drivers, cfg.Store.Driver) {
		return fmt.Errorf("store.driver: %q is not compiled in (available: %s)",
			cfg.Store.Driver, strings.Join(drivers, ", "))
	}

	if !filepath.IsAbs(cfg.Sync.Root) {
		return fmt.Errorf("sync.root: %q must be an absolute path", cfg.Sync.Root)
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}

	if cfg.Feed.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Feed.Listen); err != nil {
			return fmt.Errorf("feed.listen: %w", err)
		}
		if cfg.Metrics.Enabled && cfg.Feed.Listen == cfg.Metrics.Listen {
			return fmt.Errorf("feed.listen: %q is already used by metrics.listen", cfg.Feed.Listen)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
