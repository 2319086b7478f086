package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rcs_core/pkg/config"
)

var autoAccept bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SIP user agent",
	Long: `Run the SIP user agent until SIGINT or SIGTERM.

Incoming invitations are classified as chat, file transfer, IP call or RTP
stream. Pager MESSAGE requests and delivery reports are written to the
sqlite journal. Prometheus metrics are served when metrics.enabled is set.

Examples:
  rcsd serve                          # defaults and RCS_* environment
  rcsd serve -c rcsd.yaml             # config file
  rcsd serve -c rcsd.yaml --auto-accept`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoAccept, "auto-accept", false,
		"accept incoming invitations without user decision (overrides session.auto_accept)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("auto-accept") {
		cfg.Session.AutoAccept = autoAccept
	}

	s, err := newStack(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.logger.Info("rcsd запущен",
		slog.String("version", version),
		slog.String("localURI", cfg.LocalURI()),
		slog.String("contact", cfg.LocalContact()),
		slog.Bool("autoAccept", cfg.Session.AutoAccept))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveSIP(ctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return s.serveMetrics(ctx) })
	}
	err = g.Wait()
	s.logger.Info("rcsd остановлен")
	return err
}
