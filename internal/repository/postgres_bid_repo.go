package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresBidRepo はPostgreSQLを使用した入札リポジトリ。
type PostgresBidRepo struct {
	db *sql.DB
}

// NewPostgresBidRepo はPostgresBidRepoを生成する。
func NewPostgresBidRepo(db *sql.DB) *PostgresBidRepo {
	return &PostgresBidRepo{db: db}
}

// ListByAuction はオークションの入札一覧を額の降順で返す。
func (r *PostgresBidRepo) ListByAuction(ctx context.Context, auctionID string) ([]*model.Bid, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, auction_id, buyer_id, amount, payment_request, created_at
		 FROM bids WHERE auction_id = $1
		 ORDER BY amount DESC, created_at ASC`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []*model.Bid
	for rows.Next() {
		b := &model.Bid{}
		err := rows.Scan(&b.ID, &b.AuctionID, &b.BuyerID, &b.Amount, &b.PaymentRequest, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", err)
	}

	return bids, nil
}

// compile-time interface check
var _ BidRepository = (*PostgresBidRepo)(nil)
