package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pinshare/internal/model"
)

// PostgresFavoriteRepo はPostgreSQLを使用したお気に入りリポジトリ。
type PostgresFavoriteRepo struct {
	db *sql.DB
}

// NewPostgresFavoriteRepo はPostgresFavoriteRepoを生成する。
func NewPostgresFavoriteRepo(db *sql.DB) *PostgresFavoriteRepo {
	return &PostgresFavoriteRepo{db: db}
}

// Add はお気に入りを冪等に追加する。
// UNIQUE(user_id, pin_id)制約を利用したINSERT ON CONFLICTで実装する。
func (r *PostgresFavoriteRepo) Add(ctx context.Context, fav *model.Favorite) error {
	if fav.ID == "" {
		fav.ID = uuid.New().String()
	}
	if fav.CreatedAt.IsZero() {
		fav.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (id, user_id, pin_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, pin_id) DO NOTHING`,
		fav.ID, fav.UserID, fav.PinID, fav.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("お気に入りの追加に失敗しました: %w", err)
	}
	return nil
}

// Remove はお気に入りを削除する。存在しない場合も成功する。
func (r *PostgresFavoriteRepo) Remove(ctx context.Context, userID, pinID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND pin_id = $2`,
		userID, pinID,
	)
	if err != nil {
		return fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
	}
	return nil
}

// Exists はお気に入り登録済みかを返す。
func (r *PostgresFavoriteRepo) Exists(ctx context.Context, userID, pinID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND pin_id = $2)`,
		userID, pinID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("お気に入り状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// ListPinIDs はお気に入りピンIDを登録日時の新しい順に返す。
func (r *PostgresFavoriteRepo) ListPinIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pin_id FROM favorites
		 WHERE user_id = $1
		 ORDER BY created_at DESC, pin_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("お気に入り一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("お気に入りのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お気に入り一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ FavoriteRepository = (*PostgresFavoriteRepo)(nil)
