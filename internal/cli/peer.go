package cli

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/config"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/db"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/logger"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/node"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/signal"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/store"
	"github.com/ziadteama/P2P-FIle-Sharing/internal/transport/webrtc"
)

// peerRuntime is everything a send or receive command needs.
type peerRuntime struct {
	cfg     config.Peer
	logger  *logrus.Logger
	gdb     *gorm.DB
	signals *signal.Client
	node    *node.Node
}

func startPeer(ctx context.Context, cfg config.Peer, opts node.Options) (*peerRuntime, error) {
	cfg.EnsurePeerID()
	log := logger.New(os.Stderr, cfg.LogLevel)

	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	signals, err := signal.Dial(ctx, cfg.RelayURL, cfg.PeerID, log)
	if err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	opts.PeerID = cfg.PeerID
	opts.Signaler = signals
	opts.Dialer = webrtc.New(signals, webrtc.Options{
		STUNServers: cfg.STUNServers,
		Logger:      log,
	})
	opts.DownloadDir = cfg.DownloadDir
	opts.Transfers = store.NewTransferStore(gdb)
	opts.Logger = log

	return &peerRuntime{
		cfg:     cfg,
		logger:  log,
		gdb:     gdb,
		signals: signals,
		node:    node.New(opts),
	}, nil
}

func (p *peerRuntime) Close() error {
	return errors.Join(
		p.node.Close(),
		p.signals.Close(),
		db.Close(p.gdb),
	)
}

func addPeerFlags(cmd *cobra.Command, cfg *config.Peer) {
	cmd.Flags().StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay WebSocket URL")
	cmd.Flags().StringVar(&cfg.PeerID, "id", cfg.PeerID, "peer id to register (random when empty)")
	cmd.Flags().StringSliceVar(&cfg.STUNServers, "stun", cfg.STUNServers, "STUN server URLs")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "transfer history database")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}
