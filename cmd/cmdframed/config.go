package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cmdframe/internal/service"
	"github.com/danmuck/cmdframe/internal/sink"
)

var ErrInvalidLogLevel = errors.New("cmdframed: invalid log level")

type fileConfig struct {
	NodeID            string   `toml:"node_id"`
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	ReceiveBufferSize int      `toml:"receive_buffer_size"`
	OutputFormat      string   `toml:"output_format"`
	AdminAddr         string   `toml:"admin_addr"`
	CORSOrigins       []string `toml:"cors_origins"`
	DrainTimeout      string   `toml:"drain_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	LogLevel          string   `toml:"log_level"`
}

// daemonConfig is the service config plus process-level settings.
type daemonConfig struct {
	Service  service.Config
	LogLevel string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{Service: service.DefaultConfig()}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load cmdframed config: %w", err)
	}

	if meta.IsDefined("node_id") {
		if id := strings.TrimSpace(raw.NodeID); id != "" {
			cfg.Service.NodeID = id
		}
	}

	if meta.IsDefined("host") {
		cfg.Service.Listen.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Service.Listen.Port = raw.Port
	}

	if meta.IsDefined("receive_buffer_size") {
		cfg.Service.Listen.ReceiveBufferSize = raw.ReceiveBufferSize
	}

	if meta.IsDefined("output_format") {
		format, err := sink.ParseFormat(raw.OutputFormat)
		if err != nil {
			return daemonConfig{}, fmt.Errorf("parse output_format: %w", err)
		}
		cfg.Service.OutputFormat = format
	}

	if meta.IsDefined("admin_addr") {
		cfg.Service.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("cors_origins") {
		cfg.Service.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	if meta.IsDefined("drain_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DrainTimeout))
		if err != nil {
			return daemonConfig{}, fmt.Errorf("parse drain_timeout: %w", err)
		}
		cfg.Service.DrainTimeout = d
	}

	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return daemonConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.Service.HeartbeatInterval = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := cfg.Service.Validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
