package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, key, COALESCE(nym, ''), contribution_percent,
	COALESCE(twitter_username, ''), twitter_username_verified,
	COALESCE(twitter_profile_image_url, ''), COALESCE(twitter_verification_tweet_id, ''),
	is_moderator, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Key, &user.Nym, &user.ContributionPercent,
		&user.TwitterUsername, &user.TwitterUsernameVerified,
		&user.TwitterProfileImageURL, &user.TwitterVerificationTweetID,
		&user.IsModerator, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
}

// FindByKey はLightning公開鍵でユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByKey(ctx context.Context, key string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE key = $1`, key,
	))
}

// FindOrCreateByKey は公開鍵でユーザーを検索し、存在しなければ作成する。
func (r *PostgresUserRepo) FindOrCreateByKey(ctx context.Context, key string) (*model.User, error) {
	user, err := r.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		uuid.New().String(), key, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	// ON CONFLICT DO NOTHINGで並行作成に負けた場合でも再検索で必ず見つかる
	user, err = r.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found after insert: key=%s", key)
	}
	return user, nil
}

// Update はユーザーのプロフィールフィールドを更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			contribution_percent = $2,
			twitter_username = NULLIF($3, ''),
			twitter_username_verified = $4,
			twitter_profile_image_url = NULLIF($5, ''),
			twitter_verification_tweet_id = NULLIF($6, ''),
			updated_at = now()
		 WHERE id = $1`,
		user.ID, user.ContributionPercent,
		user.TwitterUsername, user.TwitterUsernameVerified,
		user.TwitterProfileImageURL, user.TwitterVerificationTweetID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.NewTwitterUsernameTakenError()
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
