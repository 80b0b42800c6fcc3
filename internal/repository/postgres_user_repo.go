package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

const userColumns = `id, username, password_hash, is_verified, is_banned, is_admin, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// 一意制約違反はUsernameTakenエラーに変換する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, is_verified, is_banned, is_admin)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		user.Username, user.PasswordHash, user.IsVerified, user.IsBanned, user.IsAdmin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.NewUsernameTakenError(user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// SetFlag はユーザーフラグを更新する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) SetFlag(ctx context.Context, id int64, flag model.UserFlag, value bool) (*model.User, error) {
	column, err := flagColumn(flag)
	if err != nil {
		return nil, err
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = $2, updated_at = now() WHERE id = $1 RETURNING `+userColumns, column),
		id, value,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user flag: %w", err)
	}
	return user, nil
}

// Search はユーザー名の部分一致で検索する。結果はID昇順。
func (r *PostgresUserRepo) Search(ctx context.Context, query string, limit int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE username ILIKE $1
		 ORDER BY id ASC
		 LIMIT $2`,
		likePattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsVerified, &u.IsBanned, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// flagColumn はフラグ種別をカラム名に変換する。
func flagColumn(flag model.UserFlag) (string, error) {
	switch flag {
	case model.UserFlagVerified:
		return "is_verified", nil
	case model.UserFlagBanned:
		return "is_banned", nil
	case model.UserFlagAdmin:
		return "is_admin", nil
	default:
		return "", fmt.Errorf("unknown user flag: %s", flag)
	}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
