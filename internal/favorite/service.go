// Package favorite はユーザーごとのお気に入りピンの管理を提供する。
package favorite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/repository"
)

// Service はお気に入りのサービス層。
type Service struct {
	favRepo repository.FavoriteRepository
	pinRepo repository.PinRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(favRepo repository.FavoriteRepository, pinRepo repository.PinRepository) *Service {
	return &Service{
		favRepo: favRepo,
		pinRepo: pinRepo,
	}
}

// Toggle はお気に入り状態をdesiredに設定する。何度呼んでも結果は同じ。
// 追加時はピンがユーザーに表示可能であることを要求し、削除は常に成功する。
func (s *Service) Toggle(ctx context.Context, user model.Viewer, pinID int64, desired bool) error {
	if user.UserID == 0 {
		return model.NewNotAuthorizedError()
	}

	if !desired {
		if err := s.favRepo.Remove(ctx, user.UserID, pinID); err != nil {
			return fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
		}
		slog.Debug("favorite removed", slog.Int64("user_id", user.UserID), slog.Int64("pin_id", pinID))
		return nil
	}

	pin, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}
	if pin == nil || !pin.VisibleTo(user) {
		return model.NewNotFoundError("pin")
	}

	if err := s.favRepo.Add(ctx, &model.Favorite{UserID: user.UserID, PinID: pinID}); err != nil {
		return fmt.Errorf("お気に入りの追加に失敗しました: %w", err)
	}
	slog.Debug("favorite added", slog.Int64("user_id", user.UserID), slog.Int64("pin_id", pinID))
	return nil
}

// List はお気に入りピンIDを登録の新しい順に返す。
func (s *Service) List(ctx context.Context, user model.Viewer) ([]int64, error) {
	if user.UserID == 0 {
		return []int64{}, nil
	}
	ids, err := s.favRepo.ListPinIDs(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("お気に入り一覧の取得に失敗しました: %w", err)
	}
	return ids, nil
}

// IsFavorite はピンがお気に入り登録済みかを返す。
func (s *Service) IsFavorite(ctx context.Context, user model.Viewer, pinID int64) (bool, error) {
	if user.UserID == 0 {
		return false, nil
	}
	ok, err := s.favRepo.Exists(ctx, user.UserID, pinID)
	if err != nil {
		return false, fmt.Errorf("お気に入り状態の取得に失敗しました: %w", err)
	}
	return ok, nil
}
