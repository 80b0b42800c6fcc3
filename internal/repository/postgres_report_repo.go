package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pinshare/internal/model"
)

// PostgresReportRepo はPostgreSQLを使用した通報リポジトリ。
type PostgresReportRepo struct {
	db *sql.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sql.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

// Record はReportGuardの作成と通報カウンタのインクリメントを同一トランザクションで実行する。
// 同一ユーザーの同時通報はUNIQUE(actor_id, target_kind, target_id)制約で直列化され、
// 後続のINSERTはON CONFLICT DO NOTHINGにより行を返さない。
// 対象が存在しない場合はロールバックされ、ガードは残らない。
func (r *PostgresReportRepo) Record(ctx context.Context, guard *model.ReportGuard) (int, error) {
	table, err := reportTable(guard.TargetKind)
	if err != nil {
		return 0, err
	}
	if guard.ID == "" {
		guard.ID = uuid.New().String()
	}
	if guard.CreatedAt.IsZero() {
		guard.CreatedAt = time.Now().UTC()
	}

	var reports int
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`INSERT INTO report_guards (id, actor_id, target_kind, target_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (actor_id, target_kind, target_id) DO NOTHING
			 RETURNING id`,
			guard.ID, guard.ActorID, string(guard.TargetKind), guard.TargetID, guard.CreatedAt,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return model.NewAlreadyReportedError()
		}
		if err != nil {
			return fmt.Errorf("通報ガードの作成に失敗しました: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`UPDATE %s SET reports = reports + 1 WHERE id = $1 RETURNING reports`, table),
			guard.TargetID,
		).Scan(&reports)
		if err == sql.ErrNoRows {
			return model.NewNotFoundError(string(guard.TargetKind))
		}
		if err != nil {
			return fmt.Errorf("通報数の更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reports, nil
}

// Exists は指定ユーザーが対象を通報済みかを返す。
func (r *PostgresReportRepo) Exists(ctx context.Context, actorID int64, kind model.TargetKind, targetID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM report_guards
			WHERE actor_id = $1 AND target_kind = $2 AND target_id = $3
		)`,
		actorID, string(kind), targetID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("通報状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// reportTable は通報対象種別を更新対象テーブル名に変換する。
func reportTable(kind model.TargetKind) (string, error) {
	switch kind {
	case model.TargetPin:
		return "pins", nil
	case model.TargetComment:
		return "comments", nil
	default:
		return "", model.NewValidationError("target_kind")
	}
}

// compile-time interface check
var _ ReportRepository = (*PostgresReportRepo)(nil)
