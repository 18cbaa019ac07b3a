package plugin

import (
	"fmt"
	"strings"
)

// Manifest defines the structure of a plugin's manifest.yaml file, grounded
// on the teacher's internal/plugin/manifest.go YAML shape but trimmed to the
// fields the core actually consults: a plugin loaded into a worker is a
// compiled-in Go package, not an external executable, so entrypoint/protocol
// fields have no home here — dependency declaration and discovery metadata
// do.
type Manifest struct {
	Name         string      `yaml:"name"`
	Dependencies []string    `yaml:"dependencies,omitempty"`
	Description  string      `yaml:"description,omitempty"`
	ConfigKeys   *ConfigKeys `yaml:"config_keys,omitempty"`
}

// ConfigKeys defines required and optional configuration keys for a plugin.
type ConfigKeys struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}
