package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresAuctionRepo はPostgreSQLを使用したオークションリポジトリ。
type PostgresAuctionRepo struct {
	db *sql.DB
}

// NewPostgresAuctionRepo はPostgresAuctionRepoを生成する。
func NewPostgresAuctionRepo(db *sql.DB) *PostgresAuctionRepo {
	return &PostgresAuctionRepo{db: db}
}

const auctionColumns = `id, key, seller_id, title, description,
	starting_bid, reserve_bid, duration_hours,
	start_date, end_date, COALESCE(twitter_id, ''), is_featured,
	COALESCE(winning_bid_id::text, ''), contribution_amount,
	COALESCE(contribution_payment_request, ''),
	contribution_requested_at, contribution_settled_at, created_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*model.Auction, error) {
	a := &model.Auction{}
	var (
		startDate, endDate       sql.NullTime
		requestedAt, settledAt   sql.NullTime
		isFeatured               sql.NullBool
		contributionAmount       sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.Key, &a.SellerID, &a.Title, &a.Description,
		&a.StartingBid, &a.ReserveBid, &a.DurationHours,
		&startDate, &endDate, &a.TwitterID, &isFeatured,
		&a.WinningBidID, &contributionAmount,
		&a.ContributionPaymentRequest,
		&requestedAt, &settledAt, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan auction: %w", err)
	}

	if startDate.Valid {
		a.StartDate = &startDate.Time
	}
	if endDate.Valid {
		a.EndDate = &endDate.Time
	}
	if requestedAt.Valid {
		a.ContributionRequestedAt = &requestedAt.Time
	}
	if settledAt.Valid {
		a.ContributionSettledAt = &settledAt.Time
	}
	if contributionAmount.Valid {
		v := contributionAmount.Int64
		a.ContributionAmount = &v
	}
	if isFeatured.Valid {
		a.Featured = model.FeaturedStateFromBoolPtr(&isFeatured.Bool)
	} else {
		a.Featured = model.FeaturedAuto
	}

	return a, nil
}

// Count は総オークション数を返す。
func (r *PostgresAuctionRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count auctions: %w", err)
	}
	return count, nil
}

// Create はオークションを作成する。
func (r *PostgresAuctionRepo) Create(ctx context.Context, auction *model.Auction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions
			(id, key, seller_id, title, description, starting_bid, reserve_bid, duration_hours, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		auction.ID, auction.Key, auction.SellerID,
		auction.Title, auction.Description,
		auction.StartingBid, auction.ReserveBid, auction.DurationHours,
		auction.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.NewConflictError("オークションキーが重複しました")
		}
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// FindByKey は公開キーでオークションを取得する。見つからない場合はnilを返す。
func (r *PostgresAuctionRepo) FindByKey(ctx context.Context, key string) (*model.Auction, error) {
	return scanAuction(r.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE key = $1`, key,
	))
}

// Update はオークションの編集可能フィールドを更新する。
func (r *PostgresAuctionRepo) Update(ctx context.Context, auction *model.Auction) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET
			title = $2, description = $3,
			starting_bid = $4, reserve_bid = $5, duration_hours = $6
		 WHERE id = $1`,
		auction.ID, auction.Title, auction.Description,
		auction.StartingBid, auction.ReserveBid, auction.DurationHours,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	return nil
}

// UpdateFeatured はis_featuredのみを更新する。
func (r *PostgresAuctionRepo) UpdateFeatured(ctx context.Context, auctionID string, state model.FeaturedState) error {
	var value sql.NullBool
	if b := state.BoolPtr(); b != nil {
		value = sql.NullBool{Bool: *b, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE auctions SET is_featured = $2 WHERE id = $1`,
		auctionID, value,
	)
	if err != nil {
		return fmt.Errorf("failed to update is_featured: %w", err)
	}
	return nil
}

// Delete は指定IDのオークションを削除する。
func (r *PostgresAuctionRepo) Delete(ctx context.Context, auctionID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auctions WHERE id = $1`, auctionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.NewAuctionNotFoundError(auctionID)
	}
	return nil
}

// ListBySeller は売り手のオークション一覧を作成日時降順で返す。
func (r *PostgresAuctionRepo) ListBySeller(ctx context.Context, sellerID string) ([]*model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE seller_id = $1 ORDER BY created_at DESC`,
		sellerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions by seller: %w", err)
	}
	defer rows.Close()

	return collectAuctions(rows)
}

// ListFeatured はおすすめ掲載対象のオークションを返す。
// モデレーターが明示的に掲載指定したもの（is_featured = TRUE）、
// または未指定（NULL）かつ開催期間中のものを対象とする。
func (r *PostgresAuctionRepo) ListFeatured(ctx context.Context, now time.Time) ([]*model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE is_featured = TRUE
		    OR (is_featured IS NULL AND start_date <= $1 AND end_date >= $1)
		 ORDER BY created_at DESC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list featured auctions: %w", err)
	}
	defer rows.Close()

	return collectAuctions(rows)
}

func collectAuctions(rows *sql.Rows) ([]*model.Auction, error) {
	var auctions []*model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate auctions: %w", err)
	}
	return auctions, nil
}

// Activate はアクティベーションを1トランザクションで適用する。
// メディアの置き換えと開始・終了日時の設定が部分的に観測されることはない。
func (r *PostgresAuctionRepo) Activate(ctx context.Context, auction *model.Auction, media []*model.Media) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE auctions SET twitter_id = $2, start_date = $3, end_date = $4 WHERE id = $1`,
		auction.ID, auction.TwitterID, auction.StartDate, auction.EndDate,
	)
	if err != nil {
		return fmt.Errorf("failed to activate auction: %w", err)
	}

	// 既存メディアを丸ごと置き換える
	_, err = tx.ExecContext(ctx, `DELETE FROM media WHERE auction_id = $1`, auction.ID)
	if err != nil {
		return fmt.Errorf("failed to delete previous media: %w", err)
	}

	for _, m := range media {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO media (id, auction_id, twitter_media_key, url, storage_key, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.AuctionID, m.TwitterMediaKey, m.URL, m.StorageKey, m.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert media: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// lockAuction は行ロック付きでオークションと現在の最高入札を取得する。
func lockAuction(ctx context.Context, tx *sql.Tx, auctionKey string) (*model.Auction, *model.Bid, error) {
	auction, err := scanAuction(tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE key = $1 FOR UPDATE`,
		auctionKey,
	))
	if err != nil {
		return nil, nil, err
	}
	if auction == nil {
		return nil, nil, nil
	}

	topBid := &model.Bid{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, auction_id, buyer_id, amount, payment_request, created_at
		 FROM bids WHERE auction_id = $1
		 ORDER BY amount DESC, created_at ASC LIMIT 1`,
		auction.ID,
	).Scan(&topBid.ID, &topBid.AuctionID, &topBid.BuyerID, &topBid.Amount, &topBid.PaymentRequest, &topBid.CreatedAt)
	if err == sql.ErrNoRows {
		topBid = nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to find top bid: %w", err)
	}

	return auction, topBid, nil
}

// CreateBidTx はオークション行をロックした上でfnを呼び出し、
// fnが返した入札を同一トランザクションで挿入する。
func (r *PostgresAuctionRepo) CreateBidTx(ctx context.Context, auctionKey string, fn func(a *model.Auction, topBid *model.Bid) (*model.Bid, error)) (*model.Bid, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	auction, topBid, err := lockAuction(ctx, tx, auctionKey)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, model.NewAuctionNotFoundError(auctionKey)
	}

	bid, err := fn(auction, topBid)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, buyer_id, amount, payment_request, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		bid.ID, bid.AuctionID, bid.BuyerID, bid.Amount, bid.PaymentRequest, bid.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return bid, nil
}

// SettleTx はオークション行をロックした上でfnを呼び出し、
// fnが返した精算フィールドを同一トランザクションで書き込む。
func (r *PostgresAuctionRepo) SettleTx(ctx context.Context, auctionKey string, fn func(a *model.Auction, topBid *model.Bid) (*SettlementUpdate, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	auction, topBid, err := lockAuction(ctx, tx, auctionKey)
	if err != nil {
		return err
	}
	if auction == nil {
		return model.NewAuctionNotFoundError(auctionKey)
	}

	update, err := fn(auction, topBid)
	if err != nil {
		return err
	}

	if update != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE auctions SET
				winning_bid_id = NULLIF($2, '')::uuid,
				contribution_amount = $3,
				contribution_payment_request = NULLIF($4, ''),
				contribution_requested_at = $5,
				contribution_settled_at = $6
			 WHERE id = $1`,
			auction.ID,
			update.WinningBidID,
			update.ContributionAmount,
			update.ContributionPaymentRequest,
			update.ContributionRequestedAt,
			update.ContributionSettledAt,
		)
		if err != nil {
			return fmt.Errorf("failed to write settlement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// compile-time interface check
var _ AuctionRepository = (*PostgresAuctionRepo)(nil)
