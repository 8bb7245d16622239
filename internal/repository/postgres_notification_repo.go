package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chandlerchaos/plebeian-market/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知設定リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// ListByUser はユーザーの保存済み通知設定を返す。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string) ([]*model.UserNotification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, notification_type, action
		 FROM user_notifications WHERE user_id = $1
		 ORDER BY notification_type ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.UserNotification
	for rows.Next() {
		n := &model.UserNotification{}
		err := rows.Scan(&n.UserID, &n.Type, &n.Action)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user notifications: %w", err)
	}

	return notifications, nil
}

// Upsert は通知設定を冪等にUPSERTする。
func (r *PostgresNotificationRepo) Upsert(ctx context.Context, notification *model.UserNotification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_notifications (user_id, notification_type, action)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, notification_type) DO UPDATE SET action = EXCLUDED.action`,
		notification.UserID, notification.Type, notification.Action,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user notification: %w", err)
	}
	return nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
