package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/cmdframe/internal/server"
	"github.com/danmuck/cmdframe/internal/sink"
	"github.com/danmuck/cmdframe/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmdframed.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDaemonConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadDaemonConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.NodeID != "cmdframed.local" {
		t.Fatalf("unexpected node id: %q", cfg.Service.NodeID)
	}
	if cfg.Service.Listen.Host != "127.0.0.1" || cfg.Service.Listen.Port != 33721 {
		t.Fatalf("unexpected listen config: %+v", cfg.Service.Listen)
	}
	if cfg.Service.Listen.ReceiveBufferSize != 256 {
		t.Fatalf("unexpected buffer size: %d", cfg.Service.Listen.ReceiveBufferSize)
	}
	if cfg.Service.OutputFormat != sink.FormatText {
		t.Fatalf("unexpected format: %q", cfg.Service.OutputFormat)
	}
	if cfg.Service.AdminAddr != "127.0.0.1:7020" {
		t.Fatalf("unexpected admin addr: %q", cfg.Service.AdminAddr)
	}
	if len(cfg.Service.CORSOrigins) != 1 || cfg.Service.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %v", cfg.Service.CORSOrigins)
	}
	if cfg.Service.DrainTimeout != 10*time.Second {
		t.Fatalf("unexpected drain timeout: %v", cfg.Service.DrainTimeout)
	}
	if cfg.Service.HeartbeatInterval != 30*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.Service.HeartbeatInterval)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
}

func TestLoadDaemonConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "output_format = \"JSON\"\ncors_origins = [\" \", \"http://a.test\"]\n")
	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultDaemonConfig()
	if cfg.Service.Listen != def.Service.Listen {
		t.Fatalf("listen config should stay default, got %+v", cfg.Service.Listen)
	}
	if cfg.Service.DrainTimeout != def.Service.DrainTimeout {
		t.Fatalf("drain timeout should stay default, got %v", cfg.Service.DrainTimeout)
	}
	if cfg.Service.OutputFormat != sink.FormatJSON {
		t.Fatalf("format should parse case-insensitively, got %q", cfg.Service.OutputFormat)
	}
	if len(cfg.Service.CORSOrigins) != 1 || cfg.Service.CORSOrigins[0] != "http://a.test" {
		t.Fatalf("blank origins should be dropped, got %v", cfg.Service.CORSOrigins)
	}
}

func TestLoadDaemonConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "port range", body: "port = 70000\n", want: server.ErrInvalidPort},
		{name: "negative port", body: "port = -1\n", want: server.ErrInvalidPort},
		{name: "format", body: "output_format = \"xml\"\n", want: sink.ErrUnknownFormat},
		{name: "buffer", body: "receive_buffer_size = -1\n", want: server.ErrInvalidBufferSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadDaemonConfig(writeConfig(t, tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := loadDaemonConfig(writeConfig(t, "drain_timeout = \"soon\"\n")); err == nil {
		t.Fatalf("expected drain_timeout parse error")
	}
	if _, err := loadDaemonConfig(writeConfig(t, "port = \"abc\"\n")); err == nil {
		t.Fatalf("expected toml type error")
	}
	if _, err := loadDaemonConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "port = 4000\nhost = \"0.0.0.0\"\noutput_format = \"json\"\n")

	cmd := newRootCmd(&bytes.Buffer{})
	if err := cmd.ParseFlags([]string{"--config", path, "-p", "5000", "--format", "text"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	f := daemonFlags{configPath: path, port: 5000, format: "text"}
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Service.Listen.Port != 5000 {
		t.Fatalf("flag port should win, got %d", cfg.Service.Listen.Port)
	}
	if cfg.Service.Listen.Host != "0.0.0.0" {
		t.Fatalf("file host should survive, got %q", cfg.Service.Listen.Host)
	}
	if cfg.Service.OutputFormat != sink.FormatText {
		t.Fatalf("flag format should win, got %q", cfg.Service.OutputFormat)
	}
}

func TestRootCmdRejectsInvalidPort(t *testing.T) {
	testlog.Start(t)
	for _, args := range [][]string{
		{"--port", "70000"},
		{"--port=-5"},
	} {
		var out bytes.Buffer
		cmd := newRootCmd(&bytes.Buffer{})
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		if !errors.Is(err, server.ErrInvalidPort) {
			t.Fatalf("%v: expected ErrInvalidPort, got %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage:") {
			t.Fatalf("%v: usage should be printed, got %q", args, out.String())
		}
	}

	var out bytes.Buffer
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--port", "abc"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("non-numeric port should fail")
	}
}

func TestRootCmdHelpSucceeds(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"-h"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "--port") {
		t.Fatalf("help should list --port, got %q", out.String())
	}
}

func TestRootCmdRejectsUnknownLogLevel(t *testing.T) {
	testlog.Start(t)
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud"})
	if err := cmd.Execute(); !errors.Is(err, ErrInvalidLogLevel) {
		t.Fatalf("expected ErrInvalidLogLevel, got %v", err)
	}
}

func TestRootCmdRunsUntilCancelled(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	cmd := newRootCmd(&stdout)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--host", "127.0.0.1", "--port", "0"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout should only carry commands, got %q", stdout.String())
	}
}
