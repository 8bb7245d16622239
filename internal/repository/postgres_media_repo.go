package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresMediaRepo はPostgreSQLを使用したメディアリポジトリ。
type PostgresMediaRepo struct {
	db *sql.DB
}

// NewPostgresMediaRepo はPostgresMediaRepoを生成する。
func NewPostgresMediaRepo(db *sql.DB) *PostgresMediaRepo {
	return &PostgresMediaRepo{db: db}
}

// ListByAuction はオークションのメディア一覧をposition昇順で返す。
func (r *PostgresMediaRepo) ListByAuction(ctx context.Context, auctionID string) ([]*model.Media, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, auction_id, twitter_media_key, url, storage_key, position
		 FROM media WHERE auction_id = $1
		 ORDER BY position ASC`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var media []*model.Media
	for rows.Next() {
		m := &model.Media{}
		err := rows.Scan(&m.ID, &m.AuctionID, &m.TwitterMediaKey, &m.URL, &m.StorageKey, &m.Position)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		media = append(media, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media: %w", err)
	}

	return media, nil
}

// compile-time interface check
var _ MediaRepository = (*PostgresMediaRepo)(nil)
