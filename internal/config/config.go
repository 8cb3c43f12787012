// Package config loads aptitude settings.
//
// Settings are layered, lowest first: built-in defaults, the
// .aptitude.yaml file, APTITUDE_* environment variables, then command
// line flags bound with BindFlags. The config file is found by walking
// up from the working directory unless a path is given explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file searched for.
const FileName = ".aptitude.yaml"

// EnvPrefix prefixes environment overrides, e.g. APTITUDE_TIMEOUTS_AGENT.
const EnvPrefix = "APTITUDE"

// Config is the resolved configuration.
type Config struct {
	TestPattern string   `mapstructure:"test_pattern"`
	Root        string   `mapstructure:"root"`
	Recursive   bool     `mapstructure:"recursive"`
	Exclude     []string `mapstructure:"exclude"`

	// Agent is the default backend for tests that do not name one.
	Agent string `mapstructure:"agent"`

	// Grader is the default grading backend. Empty means the test's agent.
	Grader    string `mapstructure:"grader"`
	Threshold int    `mapstructure:"threshold"`
	Model     string `mapstructure:"model"`

	Timeouts Timeouts `mapstructure:"timeouts"`
	Poll     Poll     `mapstructure:"poll"`

	// History is the run history database. Empty disables recording.
	History string `mapstructure:"history"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Timeouts bound agent runs and gradings. Zero means no limit.
type Timeouts struct {
	Agent time.Duration `mapstructure:"agent"`
	Grade time.Duration `mapstructure:"grade"`
}

// Poll sets the live reader's polling intervals.
type Poll struct {
	Discover time.Duration `mapstructure:"discover"`
	Tail     time.Duration `mapstructure:"tail"`
}

// New returns a viper instance with defaults and environment overrides
// configured.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("test_pattern", "*.aptitude.{yaml,yml}")
	v.SetDefault("root", "")
	v.SetDefault("recursive", true)
	v.SetDefault("exclude", []string{"target", "node_modules", ".git", "vendor"})
	v.SetDefault("agent", "claude")
	v.SetDefault("grader", "")
	v.SetDefault("threshold", 7)
	v.SetDefault("model", "")
	v.SetDefault("timeouts.agent", time.Duration(0))
	v.SetDefault("timeouts.grade", time.Duration(0))
	v.SetDefault("poll.discover", 200*time.Millisecond)
	v.SetDefault("poll.tail", 100*time.Millisecond)
	v.SetDefault("history", "")
}

// Default returns the built-in settings without reading a file or the
// environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return &cfg
}

// BindFlags binds flags to config keys. Flags that are not defined on
// fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, flag := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the config file and resolves every layer. An explicit
// path must exist; otherwise the file is searched for upward from
// start, and its absence is not an error.
func Load(v *viper.Viper, explicit, start string) (*Config, error) {
	path := explicit
	if path == "" {
		found, err := Find(start)
		if err != nil {
			return nil, err
		}
		path = found
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = path
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Find returns the nearest FileName in start or its parents, or "" if
// there is none.
func Find(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.Threshold < 1 || c.Threshold > 10 {
		return fmt.Errorf("threshold must be between 1 and 10, got %d", c.Threshold)
	}
	if _, err := glob.Compile(c.TestPattern); err != nil {
		return fmt.Errorf("invalid test_pattern %q: %w", c.TestPattern, err)
	}
	if c.Agent == "" {
		return errors.New("agent must not be empty")
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"timeouts.agent", c.Timeouts.Agent},
		{"timeouts.grade", c.Timeouts.Grade},
		{"poll.discover", c.Poll.Discover},
		{"poll.tail", c.Poll.Tail},
	} {
		if d.v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.key, d.v)
		}
	}
	return nil
}

// SearchDir returns the directory to discover tests in. A relative Root
// is resolved against the config file's directory, or base when no
// file was read.
func (c *Config) SearchDir(base string) string {
	if c.Root == "" {
		return base
	}
	if filepath.IsAbs(c.Root) {
		return c.Root
	}
	if c.File != "" {
		return filepath.Join(filepath.Dir(c.File), c.Root)
	}
	return filepath.Join(base, c.Root)
}
