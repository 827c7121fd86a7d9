package store

import (
	"context"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/db"
)

// TransferRepository records completed transfers.
type TransferRepository interface {
	Record(ctx context.Context, t *db.Transfer) error
	List(ctx context.Context, limit int) ([]db.Transfer, error)
	ListByPeer(ctx context.Context, peerID string, limit int) ([]db.Transfer, error)
}
