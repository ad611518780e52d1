package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Encode renders cfg as a TOML document grouped by section.
func Encode(cfg *Config) ([]byte, error) {
	sections := make(map[string]map[string]any)
	for key, value := range flatten(cfg) {
		section, name, _ := strings.Cut(key, ".")
		if sections[section] == nil {
			sections[section] = make(map[string]any)
		}
		sections[section][name] = value
	}

	var buf bytes.Buffer
	buf.WriteString("# osfsync configuration\n# Every key can be overridden with OSFSYNC_<SECTION>_<KEY>.\n\n")
	if err := toml.NewEncoder(&buf).Encode(sections); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := Encode(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
