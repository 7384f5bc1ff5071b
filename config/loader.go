package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads and parses engine configuration files.
type Loader struct{}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFromFile loads and parses configuration from a YAML file. File
// errors are wrapped with context (use os.IsNotExist to check for a
// missing file).
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Options not
// present in the file keep their defaults; unknown keys are rejected.
func (l *Loader) LoadFromBytes(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Credential reads the API key from the configured environment variable.
// The engine refuses to start without a plausible credential rather than
// spawning workers that will all fail.
func (c *Config) Credential() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if len(key) < 8 {
		return "", fmt.Errorf("%s: %w", c.APIKeyEnv, ErrCredentialMissing)
	}
	return key, nil
}
