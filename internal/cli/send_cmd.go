package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/config"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/node"
)

var sendConfig = config.DefaultPeer()

var sendCmd = &cobra.Command{
	Use:   "send peer-id file-path",
	Short: "send a file to a peer",
	Long:  `send a file to a peer that is registered with the same relay`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runSend(ctx, sendConfig, args[0], args[1])
	},
}

func runSend(ctx context.Context, cfg config.Peer, target, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	peer, err := startPeer(ctx, cfg, node.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = peer.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := peer.node.Run(runCtx); err != nil && runCtx.Err() == nil {
			peer.logger.WithError(err).Error("Node stopped")
		}
	}()

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription(fmt.Sprintf("sending %s", filepath.Base(path))),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	peer.logger.WithField("peer", target).Info("Connecting")
	err = peer.node.SendFile(ctx, target, path, func(sent, _ int64) {
		_ = bar.Set64(sent)
	})
	if err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", path, target, err)
	}
	_ = bar.Finish()

	fmt.Printf("Sent %s (%d bytes) to %s\n", filepath.Base(path), info.Size(), target)
	return nil
}

func init() {
	addPeerFlags(sendCmd, &sendConfig)
}
