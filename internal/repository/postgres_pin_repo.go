package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/lib/pq"
)

// pinSelect は投稿者情報を結合したピン取得のSELECT句。
// FROM句のピンはエイリアスpで参照する。
const pinSelect = `SELECT p.id, p.title, p.content, p.author_id, u.username, u.is_verified,
	p.is_private, p.tags, p.views, p.reports, p.created_at`

// PostgresPinRepo はPostgreSQLを使用したピンリポジトリ。
type PostgresPinRepo struct {
	db *sql.DB
}

// NewPostgresPinRepo はPostgresPinRepoを生成する。
func NewPostgresPinRepo(db *sql.DB) *PostgresPinRepo {
	return &PostgresPinRepo{db: db}
}

// Create はピンを作成し、採番されたIDと作成日時を設定する。
func (r *PostgresPinRepo) Create(ctx context.Context, pin *model.Pin) error {
	created, err := scanPin(r.db.QueryRowContext(ctx,
		`WITH p AS (
			INSERT INTO pins (title, content, author_id, is_private, tags)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		)
		`+pinSelect+` FROM p JOIN users u ON u.id = p.author_id`,
		pin.Title, pin.Content, pin.AuthorID, pin.IsPrivate, pq.Array(pin.Tags),
	))
	if err != nil {
		return fmt.Errorf("failed to create pin: %w", err)
	}
	*pin = *created
	return nil
}

// FindByID は指定IDのピンを取得する。見つからない場合はnilを返す。
func (r *PostgresPinRepo) FindByID(ctx context.Context, id int64) (*model.Pin, error) {
	pin, err := scanPin(r.db.QueryRowContext(ctx,
		pinSelect+` FROM pins p JOIN users u ON u.id = p.author_id WHERE p.id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pin: %w", err)
	}
	return pin, nil
}

// FindByIDs は指定IDのピンをまとめて取得する。
func (r *PostgresPinRepo) FindByIDs(ctx context.Context, ids []int64) ([]*model.Pin, error) {
	if len(ids) == 0 {
		return []*model.Pin{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		pinSelect+` FROM pins p JOIN users u ON u.id = p.author_id WHERE p.id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find pins: %w", err)
	}
	defer rows.Close()

	return collectPins(rows)
}

// List は閲覧者に表示可能なピンを検索・ソートして返す。
// 同順位はID昇順で並べる。
func (r *PostgresPinRepo) List(ctx context.Context, q PinQuery) ([]*model.Pin, error) {
	query := pinSelect + `
		FROM pins p
		JOIN users u ON u.id = p.author_id
		WHERE ($1 OR p.author_id = $2 OR (p.reports < $3 AND NOT p.is_private))
			AND ($4::text = '' OR p.title ILIKE $5
				OR EXISTS (SELECT 1 FROM unnest(p.tags) AS t(tag) WHERE t.tag ILIKE $5))
		ORDER BY ` + orderClause(q.Sort) + `, p.id ASC
		LIMIT $6`

	rows, err := r.db.QueryContext(ctx, query,
		q.Viewer.IsAdmin, q.Viewer.UserID, model.HidePinThreshold,
		q.Search, likePattern(q.Search), q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pins: %w", err)
	}
	defer rows.Close()

	return collectPins(rows)
}

// IncrementViews は閲覧数を1つの更新文で原子的に増やす。見つからない場合はnilを返す。
func (r *PostgresPinRepo) IncrementViews(ctx context.Context, id int64) (*model.Pin, error) {
	pin, err := scanPin(r.db.QueryRowContext(ctx,
		`WITH p AS (
			UPDATE pins SET views = views + 1 WHERE id = $1 RETURNING *
		)
		`+pinSelect+` FROM p JOIN users u ON u.id = p.author_id`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment views: %w", err)
	}
	return pin, nil
}

// RaiseReports は通報数をminReports以上に引き上げる。見つからない場合はnilを返す。
func (r *PostgresPinRepo) RaiseReports(ctx context.Context, id int64, minReports int) (*model.Pin, error) {
	pin, err := scanPin(r.db.QueryRowContext(ctx,
		`WITH p AS (
			UPDATE pins SET reports = GREATEST(reports, $2) WHERE id = $1 RETURNING *
		)
		`+pinSelect+` FROM p JOIN users u ON u.id = p.author_id`,
		id, minReports,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to raise reports: %w", err)
	}
	return pin, nil
}

// orderClause は並び順をORDER BY句に変換する。
func orderClause(s model.PinSort) string {
	switch s {
	case model.PinSortViews:
		return "p.views DESC"
	case model.PinSortOldest:
		return "p.created_at ASC"
	default:
		return "p.created_at DESC"
	}
}

func scanPin(row rowScanner) (*model.Pin, error) {
	p := &model.Pin{}
	var tags []string
	err := row.Scan(
		&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.AuthorName, &p.AuthorVerified,
		&p.IsPrivate, pq.Array(&tags), &p.Views, &p.Reports, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	p.Tags = tags
	return p, nil
}

func collectPins(rows *sql.Rows) ([]*model.Pin, error) {
	pins := []*model.Pin{}
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pins: %w", err)
	}
	return pins, nil
}

// compile-time interface check
var _ PinRepository = (*PostgresPinRepo)(nil)
