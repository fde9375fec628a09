package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the simplenn configuration file
// (~/.config/simplenn/config.yaml). Pointer fields distinguish "not set"
// from false.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	// Engine
	Engine         string `yaml:"engine"`
	BackendLibPath string `yaml:"backend_lib_path"`
	SystemLibPath  string `yaml:"system_lib_path"`
	UseSignedPD    *bool  `yaml:"use_signed_pd"`
	UseVNDK        *bool  `yaml:"use_vndk"`
	Kernel         string `yaml:"kernel"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "simplenn", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config; a file that does not parse is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLogConfig applies config file defaults to the logging flags when they
// were not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the model and engine
// flags.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") {
		modelsPath = cfg.ModelsDir
	}
	if cfg.Engine != "" && !c.IsSet("engine") {
		engine = cfg.Engine
	}
	if cfg.BackendLibPath != "" && !c.IsSet("backend-lib") {
		backendLib = cfg.BackendLibPath
	}
	if cfg.SystemLibPath != "" && !c.IsSet("system-lib") {
		systemLib = cfg.SystemLibPath
	}
	if cfg.UseSignedPD != nil && !c.IsSet("signed-pd") {
		useSignedPD = *cfg.UseSignedPD
	}
	if cfg.UseVNDK != nil && !c.IsSet("vndk") {
		useVNDK = *cfg.UseVNDK
	}
	if cfg.Kernel != "" && !c.IsSet("kernel") {
		kernel = cfg.Kernel
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
