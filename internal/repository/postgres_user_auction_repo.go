package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresUserAuctionRepo はPostgreSQLを使用したフォロー状態リポジトリ。
type PostgresUserAuctionRepo struct {
	db *sql.DB
}

// NewPostgresUserAuctionRepo はPostgresUserAuctionRepoを生成する。
func NewPostgresUserAuctionRepo(db *sql.DB) *PostgresUserAuctionRepo {
	return &PostgresUserAuctionRepo{db: db}
}

// Upsert はフォロー状態を冪等にUPSERTする。
func (r *PostgresUserAuctionRepo) Upsert(ctx context.Context, userID, auctionID string, following bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_auctions (user_id, auction_id, following)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, auction_id) DO UPDATE SET following = EXCLUDED.following`,
		userID, auctionID, following,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user auction: %w", err)
	}
	return nil
}

// Find はフォロー状態を取得する。レコードがない場合はnilを返す。
func (r *PostgresUserAuctionRepo) Find(ctx context.Context, userID, auctionID string) (*model.UserAuction, error) {
	ua := &model.UserAuction{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, auction_id, following
		 FROM user_auctions WHERE user_id = $1 AND auction_id = $2`,
		userID, auctionID,
	).Scan(&ua.UserID, &ua.AuctionID, &ua.Following)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user auction: %w", err)
	}
	return ua, nil
}

// compile-time interface check
var _ UserAuctionRepository = (*PostgresUserAuctionRepo)(nil)
