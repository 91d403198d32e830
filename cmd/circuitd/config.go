package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alte-co-jp/aspnetcore/pkg/server"
)

// fileConfig is the TOML configuration file schema.
type fileConfig struct {
	Address        string `toml:"address"`
	DetailedErrors bool   `toml:"detailed_errors"`

	MaxCircuits        int `toml:"max_circuits"`
	ResumeWindowSec    int `toml:"resume_window_seconds"`
	ReadTimeoutSec     int `toml:"read_timeout_seconds"`
	ShutdownTimeoutSec int `toml:"shutdown_timeout_seconds"`
}

// loadConfig builds the server config, optionally overlaying a TOML file.
func loadConfig(path string) (*server.Config, error) {
	config := server.DefaultConfig()
	if path == "" {
		return config, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if fc.Address != "" {
		config.Address = fc.Address
	}
	config.Circuit.DetailedErrors = fc.DetailedErrors
	if fc.MaxCircuits > 0 {
		config.Registry.MaxCircuits = fc.MaxCircuits
	}
	if fc.ResumeWindowSec > 0 {
		config.Registry.DisconnectedTimeout = time.Duration(fc.ResumeWindowSec) * time.Second
	}
	if fc.ReadTimeoutSec > 0 {
		config.ReadTimeout = time.Duration(fc.ReadTimeoutSec) * time.Second
	}
	if fc.ShutdownTimeoutSec > 0 {
		config.ShutdownTimeout = time.Duration(fc.ShutdownTimeoutSec) * time.Second
	}
	return config, nil
}
