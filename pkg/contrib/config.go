package contrib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a Config from a YAML file using a plain
// read-then-unmarshal idiom. Missing fields fall back to
// DefaultConfig's values field-by-field, so a partial document (just
// weight overrides, say) is enough.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("contrib: read config: %w", err)
	}

	var doc Config
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("contrib: parse config: %w", err)
	}

	if doc.MSL != nil {
		cfg.MSL = doc.MSL
	}
	if doc.Weights != nil {
		cfg.Weights = doc.Weights
	}
	if doc.CLE != (CLEParams{}) {
		cfg.CLE = doc.CLE
	}
	if doc.Migfact != 0 {
		cfg.Migfact = doc.Migfact
	}
	return cfg, nil
}
