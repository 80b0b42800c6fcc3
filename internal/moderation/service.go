// Package moderation は通報による自動非表示と管理者によるモデレーション操作を提供する。
package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pinshare/internal/metrics"
	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/repository"
)

// ReportResult は通報受理後の対象の状態を表す。
type ReportResult struct {
	TargetKind model.TargetKind
	TargetID   int64
	Reports    int
	Hidden     bool
}

// UserAdmin はユーザーフラグを操作する管理機能のインターフェース。
// identity.Serviceが満たす。
type UserAdmin interface {
	SetVerified(ctx context.Context, actor model.Viewer, targetID int64, value bool) error
	SetBanned(ctx context.Context, actor model.Viewer, targetID int64, value bool) error
}

// Service はモデレーションのサービス層。
type Service struct {
	pinRepo     repository.PinRepository
	commentRepo repository.CommentRepository
	reportRepo  repository.ReportRepository
	userRepo    repository.UserRepository
	users       UserAdmin
	metrics     metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	pinRepo repository.PinRepository,
	commentRepo repository.CommentRepository,
	reportRepo repository.ReportRepository,
	userRepo repository.UserRepository,
	users UserAdmin,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		pinRepo:     pinRepo,
		commentRepo: commentRepo,
		reportRepo:  reportRepo,
		userRepo:    userRepo,
		users:       users,
		metrics:     collector,
	}
}

// Report は対象を通報し、通報数を1増やす。
// 同一ユーザーによる同一対象への2回目以降の通報はAlreadyReportedを返し、何も変更しない。
func (s *Service) Report(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (*ReportResult, error) {
	if actor.UserID == 0 {
		return nil, model.NewNotAuthorizedError()
	}
	if kind != model.TargetPin && kind != model.TargetComment {
		return nil, model.NewValidationError("target_kind")
	}
	// 通報済みなら対象が既に非表示でもAlreadyReportedを返す
	already, err := s.reportRepo.Exists(ctx, actor.UserID, kind, targetID)
	if err != nil {
		return nil, fmt.Errorf("通報状態の取得に失敗しました: %w", err)
	}
	if already {
		return nil, model.NewAlreadyReportedError()
	}
	if err := s.requireVisibleTarget(ctx, actor, kind, targetID); err != nil {
		return nil, err
	}

	reports, err := s.reportRepo.Record(ctx, &model.ReportGuard{
		ActorID:    actor.UserID,
		TargetKind: kind,
		TargetID:   targetID,
	})
	if err != nil {
		return nil, err
	}

	threshold := hideThreshold(kind)
	result := &ReportResult{
		TargetKind: kind,
		TargetID:   targetID,
		Reports:    reports,
		Hidden:     reports >= threshold,
	}

	s.metrics.RecordReport(string(kind))
	if reports == threshold {
		s.metrics.RecordHidden(string(kind))
		slog.Warn("target hidden by reports",
			slog.String("kind", string(kind)),
			slog.Int64("target_id", targetID),
			slog.Int("reports", reports),
		)
	}
	return result, nil
}

// HasReported は指定ユーザーが対象を通報済みかを返す。
func (s *Service) HasReported(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) (bool, error) {
	if actor.UserID == 0 {
		return false, nil
	}
	exists, err := s.reportRepo.Exists(ctx, actor.UserID, kind, targetID)
	if err != nil {
		return false, fmt.Errorf("通報状態の取得に失敗しました: %w", err)
	}
	return exists, nil
}

// AdminAction はユーザーへの管理操作を実行する。
func (s *Service) AdminAction(ctx context.Context, actor model.Viewer, action model.AdminAction, targetUserID int64) error {
	var err error
	switch action {
	case model.AdminActionBan:
		err = s.users.SetBanned(ctx, actor, targetUserID, true)
	case model.AdminActionUnban:
		err = s.users.SetBanned(ctx, actor, targetUserID, false)
	case model.AdminActionVerify:
		err = s.users.SetVerified(ctx, actor, targetUserID, true)
	case model.AdminActionUnverify:
		err = s.users.SetVerified(ctx, actor, targetUserID, false)
	default:
		return model.NewValidationError("action")
	}
	if err != nil {
		return err
	}

	s.metrics.RecordAdminAction(string(action))
	return nil
}

// TakedownPin は管理者権限でピンを強制的に非表示にする。
// 通報数はTakedownReports以上に引き上げ、減少させない。
func (s *Service) TakedownPin(ctx context.Context, actor model.Viewer, pinID int64) (*model.Pin, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}

	pin, err := s.pinRepo.RaiseReports(ctx, pinID, model.TakedownReports)
	if err != nil {
		return nil, fmt.Errorf("ピンの非表示化に失敗しました: %w", err)
	}
	if pin == nil {
		return nil, model.NewNotFoundError("pin")
	}

	s.metrics.RecordAdminAction("takedown")
	slog.Warn("pin taken down",
		slog.Int64("actor_id", actor.UserID),
		slog.Int64("pin_id", pinID),
		slog.Int("reports", pin.Reports),
	)
	return pin, nil
}

// requireVisibleTarget は通報者に対象が表示されていることを確認する。
// コメントの場合は親ピンの可視性と自身の非表示状態を確認する。
func (s *Service) requireVisibleTarget(ctx context.Context, actor model.Viewer, kind model.TargetKind, targetID int64) error {
	switch kind {
	case model.TargetPin:
		pin, err := s.pinRepo.FindByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("ピンの取得に失敗しました: %w", err)
		}
		if pin == nil || !pin.VisibleTo(actor) {
			return model.NewNotFoundError("pin")
		}
	case model.TargetComment:
		comment, err := s.commentRepo.FindByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("コメントの取得に失敗しました: %w", err)
		}
		if comment == nil || comment.Hidden() {
			return model.NewNotFoundError("comment")
		}
		pin, err := s.pinRepo.FindByID(ctx, comment.PinID)
		if err != nil {
			return fmt.Errorf("ピンの取得に失敗しました: %w", err)
		}
		if pin == nil || !pin.VisibleTo(actor) {
			return model.NewNotFoundError("comment")
		}
	default:
		return model.NewValidationError("target_kind")
	}
	return nil
}

// requireAdmin はストア上のユーザーレコードで管理者権限を確認する。
func (s *Service) requireAdmin(ctx context.Context, actor model.Viewer) error {
	if actor.UserID == 0 {
		return model.NewNotAuthorizedError()
	}
	user, err := s.userRepo.FindByID(ctx, actor.UserID)
	if err != nil {
		return fmt.Errorf("failed to find actor: %w", err)
	}
	if user == nil || !user.IsAdmin || user.IsBanned {
		return model.NewNotAuthorizedError()
	}
	return nil
}

func hideThreshold(kind model.TargetKind) int {
	if kind == model.TargetComment {
		return model.HideCommentThreshold
	}
	return model.HidePinThreshold
}
