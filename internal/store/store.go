// Package store provides database access for transfer history.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ziadteama/P2P-FIle-Sharing/internal/db"
)

var ErrInvalidTransfer = errors.New("transfer needs a peer id, direction and file name")

type TransferStore struct {
	db *gorm.DB
}

func NewTransferStore(gdb *gorm.DB) *TransferStore {
	return &TransferStore{db: gdb}
}

func (ts *TransferStore) Record(ctx context.Context, t *db.Transfer) error {
	if t.PeerID == "" || t.FileName == "" {
		return ErrInvalidTransfer
	}
	if t.Direction != db.DirectionSent && t.Direction != db.DirectionReceived {
		return ErrInvalidTransfer
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return ts.db.WithContext(ctx).Create(t).Error
}

// List returns the most recent transfers first. A non-positive limit
// returns all of them.
func (ts *TransferStore) List(ctx context.Context, limit int) ([]db.Transfer, error) {
	var transfers []db.Transfer
	q := ts.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

// ListByPeer is List restricted to transfers with peerID.
func (ts *TransferStore) ListByPeer(ctx context.Context, peerID string, limit int) ([]db.Transfer, error) {
	var transfers []db.Transfer
	q := ts.db.WithContext(ctx).
		Where("peer_id = ?", peerID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

var _ TransferRepository = (*TransferStore)(nil)
