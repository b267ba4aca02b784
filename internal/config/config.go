// Package config loads converter settings from YAML, .env files and
// IMG2DCM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/img2dcm/internal/match"
	"github.com/mrsinham/img2dcm/internal/util"
)

// EnvPrefix prefixes every environment variable the converter reads.
const EnvPrefix = "IMG2DCM_"

// Config represents the converter settings for YAML serialization.
type Config struct {
	ImageFilter              string    `yaml:"image_filter"`
	DCMFilter                string    `yaml:"dcm_filter"`
	ExcludeTags              []string  `yaml:"exclude_tags,omitempty"`
	ReplaceDefaultExclusions bool      `yaml:"replace_default_exclusions"`
	Unmatched                string    `yaml:"unmatched"`
	Workers                  int       `yaml:"workers"`
	CopyPrivate              bool      `yaml:"copy_private"`
	Grayscale                bool      `yaml:"grayscale"`
	Label                    bool      `yaml:"label"`
	DICOMDIR                 bool      `yaml:"dicomdir"`
	AllowFailures            bool      `yaml:"allow_failures"`
	Log                      LogConfig `yaml:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ImageFilter: match.DefaultImagePattern,
		DCMFilter:   match.DefaultDicomPattern,
		Unmatched:   string(match.UnmatchedSkip),
		Workers:     1,
		Log:         LogConfig{Level: "info"},
	}
}

// LoadFromYAML reads path over the defaults. Keys absent from the file keep
// their default value.
func LoadFromYAML(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToYAML writes cfg to path.
func SaveToYAML(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays IMG2DCM_* variables found by lookup onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("IMAGE_FILTER", &c.ImageFilter)
	str("DCM_FILTER", &c.DCMFilter)
	str("UNMATCHED", &c.Unmatched)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	if v, ok := lookup(EnvPrefix + "EXCLUDE_TAGS"); ok {
		c.ExcludeTags = nil
		for _, name := range strings.Split(v, ";") {
			if name = strings.TrimSpace(name); name != "" {
				c.ExcludeTags = append(c.ExcludeTags, name)
			}
		}
	}
	if v, ok := lookup(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", EnvPrefix, err)
		}
		c.Workers = n
	}

	for name, dst := range map[string]*bool{
		"REPLACE_DEFAULT_EXCLUSIONS": &c.ReplaceDefaultExclusions,
		"COPY_PRIVATE":               &c.CopyPrivate,
		"GRAYSCALE":                  &c.Grayscale,
		"LABEL":                      &c.Label,
		"DICOMDIR":                   &c.DICOMDIR,
		"ALLOW_FAILURES":             &c.AllowFailures,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ImageFilter) == "" {
		return fmt.Errorf("image filter must not be empty")
	}
	if strings.TrimSpace(c.DCMFilter) == "" {
		return fmt.Errorf("dcm filter must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := match.ParseUnmatchedPolicy(c.Unmatched); err != nil {
		return err
	}
	if _, err := c.Exclusions(); err != nil {
		return err
	}
	return nil
}

// Exclusions resolves ExcludeTags against the default exclusion set.
func (c Config) Exclusions() (util.TagSet, error) {
	return util.BuildExclusions(c.ExcludeTags, c.ReplaceDefaultExclusions)
}
