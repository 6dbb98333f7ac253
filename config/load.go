package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/telemetryhub/errors"
)

// Load reads, schema-checks, and validates a configuration file. The
// format follows the file extension: .json, .yaml, or .yml.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read "+path)
	}

	var asJSON []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		asJSON = raw
	case ".yaml", ".yml":
		asJSON, err = yamlToJSON(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse yaml "+path)
		}
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Load",
			"unsupported extension on "+path)
	}

	if err := validateSchema(asJSON); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(asJSON, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "decode "+path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// yamlToJSON re-encodes YAML as JSON so one schema covers both formats.
func yamlToJSON(raw []byte) ([]byte, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}
