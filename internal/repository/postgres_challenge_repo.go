package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresChallengeRepo はPostgreSQLを使用したログインチャレンジリポジトリ。
type PostgresChallengeRepo struct {
	db *sql.DB
}

// NewPostgresChallengeRepo はPostgresChallengeRepoを生成する。
func NewPostgresChallengeRepo(db *sql.DB) *PostgresChallengeRepo {
	return &PostgresChallengeRepo{db: db}
}

// Create はチャレンジを作成する。
func (r *PostgresChallengeRepo) Create(ctx context.Context, challenge *model.LoginChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lnauth (k1, created_at) VALUES ($1, $2)`,
		challenge.K1, challenge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// FindByK1 は指定k1のチャレンジを取得する。見つからない場合はnilを返す。
func (r *PostgresChallengeRepo) FindByK1(ctx context.Context, k1 string) (*model.LoginChallenge, error) {
	challenge := &model.LoginChallenge{}
	err := r.db.QueryRowContext(ctx,
		`SELECT k1, COALESCE(key, ''), created_at FROM lnauth WHERE k1 = $1`,
		k1,
	).Scan(&challenge.K1, &challenge.Key, &challenge.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find challenge: %w", err)
	}

	return challenge, nil
}

// BindKey はチャレンジに公開鍵を束縛する。
// 未束縛または同一鍵が束縛済みの行のみを更新対象とする単一UPDATE文のため、
// ウォレットの二重送信が並行しても異なる鍵で上書きされることはない。
func (r *PostgresChallengeRepo) BindKey(ctx context.Context, k1, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE lnauth SET key = $2 WHERE k1 = $1 AND (key IS NULL OR key = $2)`,
		k1, key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to bind key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Consume はチャレンジを削除し、削除した行を返す。既に消費済みの場合はnilを返す。
func (r *PostgresChallengeRepo) Consume(ctx context.Context, k1 string) (*model.LoginChallenge, error) {
	challenge := &model.LoginChallenge{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM lnauth WHERE k1 = $1 RETURNING k1, COALESCE(key, ''), created_at`,
		k1,
	).Scan(&challenge.K1, &challenge.Key, &challenge.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	return challenge, nil
}

// compile-time interface check
var _ ChallengeRepository = (*PostgresChallengeRepo)(nil)
