package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pinshare/internal/model"
)

const commentSelect = `SELECT c.id, c.pin_id, c.author_id, u.username, u.is_verified, c.content, c.reports, c.created_at`

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db *sql.DB
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db *sql.DB) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成し、採番されたIDと作成日時を設定する。
func (r *PostgresCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	created, err := scanComment(r.db.QueryRowContext(ctx,
		`WITH c AS (
			INSERT INTO comments (pin_id, author_id, content)
			VALUES ($1, $2, $3)
			RETURNING *
		)
		`+commentSelect+` FROM c JOIN users u ON u.id = c.author_id`,
		comment.PinID, comment.AuthorID, comment.Content,
	))
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	*comment = *created
	return nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id int64) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx,
		commentSelect+` FROM comments c JOIN users u ON u.id = c.author_id WHERE c.id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return c, nil
}

// ListVisibleByPin は通報数が閾値未満のコメントを作成日時昇順で返す。
func (r *PostgresCommentRepo) ListVisibleByPin(ctx context.Context, pinID int64) ([]*model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		commentSelect+`
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.pin_id = $1 AND c.reports < $2
		ORDER BY c.created_at ASC, c.id ASC`,
		pinID, model.HideCommentThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	comments := []*model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

func scanComment(row rowScanner) (*model.Comment, error) {
	c := &model.Comment{}
	err := row.Scan(&c.ID, &c.PinID, &c.AuthorID, &c.AuthorName, &c.AuthorVerified, &c.Content, &c.Reports, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// compile-time interface check
var _ CommentRepository = (*PostgresCommentRepo)(nil)
