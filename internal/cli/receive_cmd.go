package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/config"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/node"
)

var receiveConfig = config.DefaultPeer()

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "wait for files from other peers",
	Long:  `register with the relay and save every file other peers send until interrupted`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runReceive(ctx, receiveConfig)
	},
}

// receiveProgress keeps one bar per peer for the transfer in flight.
type receiveProgress struct {
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func (p *receiveProgress) update(peerID string, received, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[peerID]
	if !ok || received == 1 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(fmt.Sprintf("receiving from %s", peerID)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		p.bars[peerID] = bar
	}
	_ = bar.Set(received)
}

func (p *receiveProgress) finish(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bar, ok := p.bars[peerID]; ok {
		_ = bar.Finish()
		delete(p.bars, peerID)
	}
}

func runReceive(ctx context.Context, cfg config.Peer) error {
	progress := &receiveProgress{bars: make(map[string]*progressbar.ProgressBar)}

	peer, err := startPeer(ctx, cfg, node.Options{
		OnProgress: progress.update,
		OnReceive: func(r node.Received) {
			progress.finish(r.PeerID)
			fmt.Printf("Received %s (%d bytes, %s) from %s -> %s\n",
				r.Artifact.Name, r.Artifact.Size(), r.Artifact.MimeType, r.PeerID, r.Path)
		},
		OnError: func(peerID string, err error) {
			progress.finish(peerID)
			fmt.Fprintf(os.Stderr, "Transfer from %s failed: %v\n", peerID, err)
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = peer.Close() }()

	fmt.Printf("Your peer id: %s\n", peer.cfg.PeerID)
	fmt.Printf("Saving files to %s\n", peer.cfg.DownloadDir)

	if err := peer.node.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func init() {
	addPeerFlags(receiveCmd, &receiveConfig)
	receiveCmd.Flags().StringVar(&receiveConfig.DownloadDir, "out", receiveConfig.DownloadDir, "directory to save received files in")
}
