package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the project config file looked up in the working directory.
const DefaultPath = "sweepctl.yaml"

// Config is the project level sweepctl configuration.
type Config struct {
	Log      LogConfig    `yaml:"log"`
	Store    StoreConfig  `yaml:"store"`
	Runner   RunnerConfig `yaml:"runner"`
	Server   ServerConfig `yaml:"server"`
	Registry string       `yaml:"registry"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Dir    string `yaml:"dir"`
	DBPath string `yaml:"db"`
}

type RunnerConfig struct {
	Interpreter string  `yaml:"interpreter"`
	WorkDir     string  `yaml:"workdir"`
	Parallelism int     `yaml:"parallelism"`
	LaunchRate  float64 `yaml:"launch_rate"`
	Seed        int64   `yaml:"seed"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	Port                   int    `yaml:"port"`
	LeaseTTLSeconds        int    `yaml:"lease_ttl_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "console"},
		Store:  StoreConfig{Dir: ".sweepctl", DBPath: ".sweepctl/sweeps.db"},
		Runner: RunnerConfig{Interpreter: "python3", Parallelism: 1},
		Server: ServerConfig{
			Port:                   8080,
			LeaseTTLSeconds:        600,
			ShutdownTimeoutSeconds: 10,
		},
		Registry: "ghcr.io",
	}
}

type loader func(*Config) error

// Load builds the configuration from defaults, the file at path and SWEEPCTL_*
// environment variables, in that order. An empty path reads DefaultPath when
// it exists.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	for _, l := range []loader{fileLoader(path), envLoader(os.LookupEnv)} {
		if err := l(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fileLoader(path string) loader {
	return func(cfg *Config) error {
		optional := path == ""
		if optional {
			path = DefaultPath
		}
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) && optional {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
		return nil
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Runner.Parallelism < 1 {
		return fmt.Errorf("runner.parallelism must be at least 1, got %d", c.Runner.Parallelism)
	}
	if c.Runner.LaunchRate < 0 {
		return fmt.Errorf("runner.launch_rate must not be negative, got %g", c.Runner.LaunchRate)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
