// Package config resolves harness settings from, in increasing
// precedence: built-in defaults, the user config file, the project config
// file, and MOOCONF_* environment variables. Command-line flags override
// all of these and are applied by the commands themselves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

const (
	userConfigDir    = ".config/mooconf"
	projectConfigDir = ".mooconf"
	configFileName   = "config.yaml"
	DefaultPort      = 7777
	DefaultUser      = "wizard"
	DefaultSuiteDir  = "suites"
)

// ServerConfig describes an optionally managed server subprocess. An empty
// Command means the harness connects to an externally managed server.
type ServerConfig struct {
	Command string `yaml:"command" env:"COMMAND"`
	DB      string `yaml:"db" env:"DB"`
}

// Config is the resolved harness configuration.
type Config struct {
	Host     string       `yaml:"host" env:"HOST"`
	Port     int          `yaml:"port" env:"PORT"`
	User     string       `yaml:"user" env:"USER"`
	SuiteDir string       `yaml:"suite_dir" env:"SUITE_DIR"`
	LogLevel string       `yaml:"log_level" env:"LOG_LEVEL"`
	Server   ServerConfig `yaml:"server" envPrefix:"SERVER_"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     DefaultPort,
		User:     DefaultUser,
		SuiteDir: DefaultSuiteDir,
		LogLevel: "info",
	}
}

// Managed reports whether the config asks for a managed server.
func (c Config) Managed() bool {
	return c.Server.Command != ""
}

// Address renders the host:port pair for messages.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load resolves the configuration. Missing files are fine; malformed ones
// are errors, since silently ignoring a typo'd config misleads.
func Load() (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFile(filepath.Join(home, userConfigDir, configFileName), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := mergeFile(filepath.Join(projectConfigDir, configFileName), &cfg); err != nil {
		return Config{}, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MOOCONF_"}); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// mergeFile overlays path onto cfg. YAML leaves absent keys untouched, so
// each file only overrides what it mentions. Unknown keys are errors; a
// typo'd key that silently does nothing misleads.
func mergeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	logging.Debug("Config", "Loaded %s", path)
	return nil
}
