// Package identity はユーザー登録・ログイン・セッション管理と
// 管理者によるユーザーフラグ操作を提供する。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/repository"
)

const (
	// SearchLimit は管理者向けユーザー検索の最大件数。
	SearchLimit = 100
	// DefaultSessionMaxAge はセッションの既定の有効期間（秒）。
	DefaultSessionMaxAge = 86400
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）。0以下の場合はDefaultSessionMaxAge
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service はユーザー認証と管理操作のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = DefaultSessionMaxAge
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// Register は新規ユーザーを作成し、ログイン済みセッションを発行する。
// ユーザー名は前後の空白を除去し、大文字小文字を区別して一意性を判定する。
func (s *Service) Register(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return nil, nil, model.NewValidationError("username")
	}
	if password == "" || len(password) > model.MaxPasswordBytes {
		return nil, nil, model.NewValidationError("password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	slog.Info("new user created",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return user, session, nil
}

// Login は認証情報を検証してセッションを発行する。
// 停止中アカウントの判定はパスワード一致後に行う。
func (s *Service) Login(ctx context.Context, username, password string) (*model.User, *model.Session, error) {
	username = strings.TrimSpace(username)

	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil, model.NewInvalidCredentialsError()
		}
		return nil, nil, fmt.Errorf("failed to compare password: %w", err)
	}

	if user.IsBanned {
		slog.Warn("banned user attempted login", slog.Int64("user_id", user.ID))
		return nil, nil, model.NewAccountBannedError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.Int64("user_id", user.ID))
	return user, session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Viewer はストアのユーザーレコードから操作主体を導出する。
// ユーザーが存在しない場合は未ログイン扱いとする。
func (s *Service) Viewer(ctx context.Context, userID int64) (model.Viewer, error) {
	if userID == 0 {
		return model.Anonymous, nil
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.Anonymous, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.Anonymous, nil
	}
	return user.Viewer(), nil
}

// SetVerified は認証バッジを付与・剥奪する。管理者のみ実行できる。
func (s *Service) SetVerified(ctx context.Context, actor model.Viewer, targetID int64, value bool) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	user, err := s.userRepo.SetFlag(ctx, targetID, model.UserFlagVerified, value)
	if err != nil {
		return fmt.Errorf("failed to update verified flag: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("user verification changed",
		slog.Int64("actor_id", actor.UserID),
		slog.Int64("user_id", targetID),
		slog.Bool("verified", value),
	)
	return nil
}

// SetBanned はアカウントを停止・解除する。管理者のみ実行できる。
// 停止時は対象ユーザーの全セッションを破棄する。
func (s *Service) SetBanned(ctx context.Context, actor model.Viewer, targetID int64, value bool) error {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return err
	}
	user, err := s.userRepo.SetFlag(ctx, targetID, model.UserFlagBanned, value)
	if err != nil {
		return fmt.Errorf("failed to update banned flag: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if value {
		if err := s.sessionRepo.DeleteByUserID(ctx, targetID); err != nil {
			return fmt.Errorf("failed to delete sessions: %w", err)
		}
	}

	slog.Info("user ban changed",
		slog.Int64("actor_id", actor.UserID),
		slog.Int64("user_id", targetID),
		slog.Bool("banned", value),
	)
	return nil
}

// Search はユーザー名の部分一致（大文字小文字無視）でユーザーを検索する。
// 管理者のみ実行できる。結果はID昇順で最大SearchLimit件。
func (s *Service) Search(ctx context.Context, actor model.Viewer, query string) ([]*model.User, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	users, err := s.userRepo.Search(ctx, strings.TrimSpace(query), SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

// Promote は管理者ロールを付与・剥奪する。
// CLIからの運用操作専用で、HTTPには公開しない。
func (s *Service) Promote(ctx context.Context, username string, admin bool) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	updated, err := s.userRepo.SetFlag(ctx, user.ID, model.UserFlagAdmin, admin)
	if err != nil {
		return nil, fmt.Errorf("failed to update admin flag: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("user admin role changed",
		slog.Int64("user_id", updated.ID),
		slog.Bool("admin", admin),
	)
	return updated, nil
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

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
