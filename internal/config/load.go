package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const EnvHECToken = "HEC_TOKEN"

// Load reads a config file on top of the defaults from New. The format
// follows the extension: .yaml/.yml, or .json/.jsonc (comments and trailing
// commas allowed). Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := Parse(raw, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw into cfg. ext selects the format and includes the dot.
func Parse(raw []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing yaml config: %w", err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parsing json config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config extension %q (use .yaml, .yml, .json or .jsonc)", ext)
	}
	return nil
}

// ApplyEnv fills secrets from the environment when the file left them empty.
// The API key is resolved separately by meraki.ResolveAPIKey.
func (c *Config) ApplyEnv() {
	if c.HEC.Token == "" {
		c.HEC.Token = strings.TrimSpace(os.Getenv(EnvHECToken))
	}
}
