package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jrsteele09/go-finance-client/internal/errors"
)

// configPathEnvVar names an optional YAML file read before the environment overlay.
const configPathEnvVar = "CONFIG_PATH"

type Config interface {
	EnvConfig
	APIConfig
	StorageConfig
	GoogleConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars `yaml:"app"`
	API     `yaml:"api"`
	Storage `yaml:"storage"`
	Google  `yaml:"google"`
}

// New loads the configuration from CONFIG_PATH (if set) and the environment and
// panics when it is invalid.
func New() Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration. Sources, highest priority first:
//  1. environment variables;
//  2. the YAML file at path, or at CONFIG_PATH when path is empty;
//  3. built-in defaults.
func Load(path string) (Config, error) {
	var c mainConfig

	if path == "" {
		path = os.Getenv(configPathEnvVar)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &c); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&c); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	u, err := url.Parse(c.GetAPIBaseURL())
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "API_URL %q: %v", c.GetAPIBaseURL(), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Wrapf(errors.ErrInvalidConfig, "API_URL %q must be http or https", c.GetAPIBaseURL())
	}
	if u.Host == "" {
		return errors.Wrapf(errors.ErrInvalidConfig, "API_URL %q has no host", c.GetAPIBaseURL())
	}
	if c.GetRequestTimeout() < 0 || c.GetLogoutTimeout() < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "timeouts cannot be negative")
	}
	return nil
}
