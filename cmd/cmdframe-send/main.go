package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/cmdframe/internal/logging"
	"github.com/danmuck/cmdframe/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ErrInvalidInterval = errors.New("cmdframe-send: invalid interval")

// noise is written between frames with --garbage; the decoder must skip it.
var noise = []byte("garbage\x00CM")

type senderConfig struct {
	Addr           string
	Count          int
	Interval       time.Duration
	Garbage        bool
	ConnectTimeout time.Duration
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cmdframe-send: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := senderConfig{}
	cmd := &cobra.Command{
		Use:           "cmdframe-send",
		Short:         "Send bursts of sample CMD frames to a cmdframed listener",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Interval < 0 {
				return fmt.Errorf("%w: %s", ErrInvalidInterval, cfg.Interval)
			}
			cmd.SilenceUsage = true
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.Addr, "addr", "127.0.0.1:33721", "cmdframed address")
	flags.IntVar(&cfg.Count, "count", 0, "bursts to send, 0 sends until interrupted")
	flags.DurationVar(&cfg.Interval, "interval", 5*time.Second, "pause between bursts")
	flags.BoolVar(&cfg.Garbage, "garbage", false, "interleave non-frame bytes between frames")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 3*time.Second, "dial timeout")
	return cmd
}

// sampleBurst is one text, one byte and one pair command, in that order.
func sampleBurst(garbage bool) ([]byte, error) {
	cmds := []frame.Command{
		frame.Command1{Text: []byte("ABCDE 12345")},
		frame.Command2{Value: 0x0A},
		frame.Command3{A: 0x0100, B: 0x10},
	}
	var buf bytes.Buffer
	for _, cmd := range cmds {
		if garbage {
			buf.Write(noise)
		}
		if err := frame.WriteCommand(&buf, cmd); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func run(ctx context.Context, cfg senderConfig) error {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	defer conn.Close()
	log.Info().Str("addr", cfg.Addr).Msg("cmdframe-send connected")
	return sendBursts(ctx, conn, cfg)
}

func sendBursts(ctx context.Context, w io.Writer, cfg senderConfig) error {
	burst, err := sampleBurst(cfg.Garbage)
	if err != nil {
		return err
	}
	for sent := 0; cfg.Count == 0 || sent < cfg.Count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.Interval):
			}
		}
		if _, err := w.Write(burst); err != nil {
			return fmt.Errorf("send burst %d: %w", sent+1, err)
		}
		log.Debug().Int("burst", sent+1).Int("bytes", len(burst)).Msg("cmdframe-send burst sent")
	}
	return nil
}
