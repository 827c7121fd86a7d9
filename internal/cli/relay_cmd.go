package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/config"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/logger"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/relay"
)

var relayCmd = NewRelayCommand()

// NewRelayCommand builds the relay command. It also serves as the root
// command of the standalone relay binary.
func NewRelayCommand() *cobra.Command {
	cfg := config.DefaultRelay()
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run the signaling relay",
		Long:  `run the signaling relay that lets peers find each other and exchange connection setup signals`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunRelay(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Int64Var(&cfg.ReadLimit, "read-limit", cfg.ReadLimit, "maximum size of one relay message in bytes")
	return cmd
}

// RunRelay serves the relay until ctx is cancelled or the process receives
// SIGINT or SIGTERM.
func RunRelay(ctx context.Context, cfg config.Relay) error {
	log := logger.New(os.Stderr, cfg.LogLevel)

	srv, err := relay.NewServer(relay.Config{
		Addr:      cfg.Addr,
		Logger:    log,
		ReadLimit: cfg.ReadLimit,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("Relay stopped")
	return nil
}
