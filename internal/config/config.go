// Package config owns the on-disk defaults a client facade may load
// instead of hard-coding connect parameters, following LoadGhostConfig's
// load-then-default-then-validate shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientDefaults are the connect-time knobs a deployment typically wants
// to pin once rather than pass at every call site: which server to dial,
// how long to wait for each phase, and whether to run with verbose
// logging.
type ClientDefaults struct {
	Host           string        `toml:"host"`
	Port           uint16        `toml:"port"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	DebugMode      bool          `toml:"debug_mode"`
}

// DefaultPort is the server's default TCP port (§6).
const DefaultPort uint16 = 24817

// DefaultClientDefaults returns the release-mode defaults applied when a
// config file omits a field.
func DefaultClientDefaults() ClientDefaults {
	return ClientDefaults{
		Host:           "127.0.0.1",
		Port:           DefaultPort,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    20 * time.Second,
		WriteTimeout:   20 * time.Second,
	}
}

// LoadClientDefaults reads a TOML file at path, layering it over
// DefaultClientDefaults for any field the file omits, then validates the
// result.
func LoadClientDefaults(path string) (ClientDefaults, error) {
	cfg := DefaultClientDefaults()
	var fileCfg struct {
		Host           string `toml:"host"`
		Port           uint16 `toml:"port"`
		ConnectTimeout string `toml:"connect_timeout"`
		ReadTimeout    string `toml:"read_timeout"`
		WriteTimeout   string `toml:"write_timeout"`
		DebugMode      bool   `toml:"debug_mode"`
	}
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return ClientDefaults{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if fileCfg.Host != "" {
		cfg.Host = fileCfg.Host
	}
	if fileCfg.Port != 0 {
		cfg.Port = fileCfg.Port
	}
	cfg.DebugMode = fileCfg.DebugMode
	if fileCfg.ConnectTimeout != "" {
		d, err := time.ParseDuration(fileCfg.ConnectTimeout)
		if err != nil {
			return ClientDefaults{}, fmt.Errorf("config parse failed (%s): connect_timeout: %w", path, err)
		}
		cfg.ConnectTimeout = d
	}
	if fileCfg.ReadTimeout != "" {
		d, err := time.ParseDuration(fileCfg.ReadTimeout)
		if err != nil {
			return ClientDefaults{}, fmt.Errorf("config parse failed (%s): read_timeout: %w", path, err)
		}
		cfg.ReadTimeout = d
	}
	if fileCfg.WriteTimeout != "" {
		d, err := time.ParseDuration(fileCfg.WriteTimeout)
		if err != nil {
			return ClientDefaults{}, fmt.Errorf("config parse failed (%s): write_timeout: %w", path, err)
		}
		cfg.WriteTimeout = d
	}

	if err := Validate(cfg); err != nil {
		return ClientDefaults{}, err
	}
	return cfg, nil
}

// Validate rejects a ClientDefaults missing a usable host or carrying a
// non-positive timeout.
func Validate(cfg ClientDefaults) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("config missing host")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("config missing port")
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("config connect_timeout must be positive")
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("config read_timeout must be positive")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("config write_timeout must be positive")
	}
	return nil
}
