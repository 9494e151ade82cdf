package entgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultOutput is the generated file name used when a config leaves it empty.
const DefaultOutput = "entities_gen.go"

// Config describes one generation run: a single package and the entities to generate for it.
type Config struct {
	// Package is a go/packages pattern, eg. "./models".
	Package  string         `yaml:"package"`
	Output   string         `yaml:"output"`
	Entities []EntityConfig `yaml:"entities"`

	// Dir is where Package is resolved from, the config file's directory when loaded.
	Dir string `yaml:"-"`
}

type EntityConfig struct {
	Type     string `yaml:"type"`
	Table    string `yaml:"table"`     // defaults to the pluralized, underscored type name
	IDColumn string `yaml:"id_column"` // overrides the pk tag
}

// LoadConfig reads a YAML config from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// Only restricts the config to the named types, adding entries with defaults for types the
// config does not list.
func (c *Config) Only(types ...string) {
	if len(types) == 0 {
		return
	}
	var entities []EntityConfig
	for _, t := range types {
		i := slices.IndexFunc(c.Entities, func(ec EntityConfig) bool { return ec.Type == t })
		if i >= 0 {
			entities = append(entities, c.Entities[i])
		} else {
			entities = append(entities, EntityConfig{Type: t})
		}
	}
	c.Entities = entities
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.Package == "" {
		return errors.New("no package given")
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if filepath.Base(c.Output) != c.Output {
		return fmt.Errorf("output %q must be a file name", c.Output)
	}
	if len(c.Entities) == 0 {
		return errors.New("no entities given")
	}
	seen := map[string]bool{}
	for i, ec := range c.Entities {
		if ec.Type == "" {
			return fmt.Errorf("entity %d has no type", i)
		}
		if seen[ec.Type] {
			return fmt.Errorf("duplicate entity %s", ec.Type)
		}
		seen[ec.Type] = true
	}
	return nil
}
