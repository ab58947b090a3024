package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/cmdframe/internal/logging"
	"github.com/danmuck/cmdframe/internal/service"
	"github.com/danmuck/cmdframe/internal/sink"
	"github.com/spf13/cobra"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cmdframed: %v\n", err)
		os.Exit(1)
	}
}

type daemonFlags struct {
	configPath string
	host       string
	port       int
	format     string
	adminAddr  string
	logLevel   string
}

// newRootCmd wires the daemon. Decoded commands go to stdout; everything
// else goes to stderr.
func newRootCmd(stdout io.Writer) *cobra.Command {
	var f daemonFlags
	cmd := &cobra.Command{
		Use:   "cmdframed",
		Short: "Decode CMD frames from TCP clients and print each command",
		Long: `cmdframed listens on a TCP port, decodes the CMD binary frame protocol
on every accepted connection and prints one line per decoded command.
Port 0 lets the OS pick a free port; the chosen port is logged on stderr.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			svc, err := service.New(cfg.Service, stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&f.host, "host", "", "bind host (default all interfaces)")
	flags.IntVarP(&f.port, "port", "p", 0, "listening port, 0-65535 (0 picks a free port)")
	flags.StringVar(&f.format, "format", string(sink.FormatText), "output format: text, json")
	flags.StringVar(&f.adminAddr, "admin-addr", "", "admin HTTP address, empty disables it")
	flags.StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	return cmd
}

// resolveConfig layers explicitly set flags over the config file over the
// defaults, then validates the result.
func resolveConfig(cmd *cobra.Command, f daemonFlags) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if f.configPath != "" {
		loaded, err := loadDaemonConfig(f.configPath)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Service.Listen.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Service.Listen.Port = f.port
	}
	if flags.Changed("format") {
		format, err := sink.ParseFormat(f.format)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Service.OutputFormat = format
	}
	if flags.Changed("admin-addr") {
		cfg.Service.AdminAddr = f.adminAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}

	if err := cfg.Service.Validate(); err != nil {
		return daemonConfig{}, err
	}
	if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
		return daemonConfig{}, fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.LogLevel)
	}
	return cfg, nil
}
