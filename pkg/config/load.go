package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GHOSTLINE_"

// Dir returns the configuration directory: $XDG_CONFIG_HOME/ghostline if set,
// otherwise ~/.config/ghostline.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ghostline")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ghostline")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultTokenFile returns the default token file path.
func DefaultTokenFile() string {
	return filepath.Join(Dir(), "token")
}

// Override adjusts a loaded config before validation. The CLI uses it for flags.
type Override func(*Config)

// Load reads path with Read, applies overrides and validates the result.
func Load(path string, overrides ...Override) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read loads path on top of Default and applies environment overrides
// without validating. A missing file is not an error.
func Read(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile()
	}
	return cfg, nil
}

// Write marshals cfg to YAML and writes it to w.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(cfg)
}

// applyEnv overrides cfg from GHOSTLINE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("ENDPOINT", &cfg.Endpoint)
	str("TOKEN_FILE", &cfg.TokenFile)
	str("TOKEN", &cfg.Token)
	str("MODEL", &cfg.Model)
	str("PROXY_URL", &cfg.ProxyURL)
	str("PROVIDER_HEADER", &cfg.ProviderHeader)

	if err := dur("TIMEOUT", &cfg.Timeout); err != nil {
		return err
	}
	if err := dur("RATE_LIMIT_COOLDOWN", &cfg.RateLimitCooldown); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "N"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sN: %w", EnvPrefix, err)
		}
		cfg.Sampling.N = n
	}
	if v, ok := lookup(EnvPrefix + "REQUESTS_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sREQUESTS_PER_SECOND: %w", EnvPrefix, err)
		}
		cfg.RequestsPerSecond = f
	}
	return nil
}
