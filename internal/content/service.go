// Package content はピンとコメントの作成・取得・閲覧数記録を提供する。
package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/pinshare/internal/metrics"
	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/repository"
	"github.com/hitoshi/pinshare/internal/security"
)

// DefaultListLimit は一覧取得の最大件数の既定値。
const DefaultListLimit = 100

// PinInput はピン作成時の入力。
type PinInput struct {
	Title     string
	Content   string
	Tags      []string
	IsPrivate bool
}

// ServiceConfig はコンテンツサービスの設定。
type ServiceConfig struct {
	ListLimit int // 0の場合はDefaultListLimit
}

// Service はピンとコメントのサービス層。
type Service struct {
	pinRepo     repository.PinRepository
	commentRepo repository.CommentRepository
	sanitizer   security.TextSanitizerService
	metrics     metrics.MetricsCollector
	listLimit   int
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	pinRepo repository.PinRepository,
	commentRepo repository.CommentRepository,
	sanitizer security.TextSanitizerService,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	limit := config.ListLimit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &Service{
		pinRepo:     pinRepo,
		commentRepo: commentRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		listLimit:   limit,
	}
}

// CreatePin はピンを作成する。
// タイトルとタグはマークアップを除去し、本文はそのまま保存する。
func (s *Service) CreatePin(ctx context.Context, author model.Viewer, input PinInput) (*model.Pin, error) {
	if author.UserID == 0 {
		return nil, model.NewNotAuthorizedError()
	}

	title := s.sanitizer.Sanitize(input.Title)
	if title == "" || utf8.RuneCountInString(title) > model.MaxTitleLength {
		return nil, model.NewValidationError("title")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, model.NewValidationError("content")
	}

	pin := &model.Pin{
		Title:     title,
		Content:   input.Content,
		AuthorID:  author.UserID,
		IsPrivate: input.IsPrivate,
		Tags:      model.NormalizeTags(s.sanitizer.SanitizeAll(model.NormalizeTags(input.Tags))),
	}
	if err := s.pinRepo.Create(ctx, pin); err != nil {
		return nil, fmt.Errorf("ピンの作成に失敗しました: %w", err)
	}

	s.metrics.RecordPinCreated()
	slog.Info("pin created",
		slog.Int64("pin_id", pin.ID),
		slog.Int64("author_id", pin.AuthorID),
		slog.Bool("private", pin.IsPrivate),
	)
	return pin, nil
}

// GetPin は閲覧者に表示可能なピンを返す。
// 存在しない場合と表示できない場合はどちらもNotFoundを返す。
func (s *Service) GetPin(ctx context.Context, requester model.Viewer, id int64) (*model.Pin, error) {
	pin, err := s.pinRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}
	if pin == nil || !pin.VisibleTo(requester) {
		return nil, model.NewNotFoundError("pin")
	}
	return pin, nil
}

// RecordView は閲覧数を1増やし、更新後のピンを返す。
// 表示できないピンの閲覧数は増やさない。
func (s *Service) RecordView(ctx context.Context, requester model.Viewer, id int64) (*model.Pin, error) {
	if _, err := s.GetPin(ctx, requester, id); err != nil {
		return nil, err
	}

	pin, err := s.pinRepo.IncrementViews(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("閲覧数の更新に失敗しました: %w", err)
	}
	if pin == nil {
		return nil, model.NewNotFoundError("pin")
	}

	s.metrics.RecordPinView()
	return pin, nil
}

// ListPins は閲覧者に表示可能なピンを検索・ソートして返す。
func (s *Service) ListPins(ctx context.Context, requester model.Viewer, filter model.PinFilter) ([]*model.Pin, error) {
	sort := filter.Sort
	if sort == "" {
		sort = model.PinSortNewest
	}

	pins, err := s.pinRepo.List(ctx, repository.PinQuery{
		Viewer: requester,
		Search: strings.TrimSpace(filter.Search),
		Sort:   sort,
		Limit:  s.listLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("ピン一覧の取得に失敗しました: %w", err)
	}
	return pins, nil
}

// VisiblePins は指定IDのうち閲覧者に表示可能なピンを返す。
// 返却順はidsの順序に従う。
func (s *Service) VisiblePins(ctx context.Context, requester model.Viewer, ids []int64) ([]*model.Pin, error) {
	if len(ids) == 0 {
		return []*model.Pin{}, nil
	}

	found, err := s.pinRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}

	byID := make(map[int64]*model.Pin, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	pins := make([]*model.Pin, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok && p.VisibleTo(requester) {
			pins = append(pins, p)
		}
	}
	return pins, nil
}

// CreateComment はピンにコメントを投稿する。
// 投稿者に表示できないピンにはPinNotFoundを返す。
func (s *Service) CreateComment(ctx context.Context, author model.Viewer, pinID int64, content string) (*model.Comment, error) {
	if author.UserID == 0 {
		return nil, model.NewNotAuthorizedError()
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, model.NewValidationError("content")
	}

	pin, err := s.pinRepo.FindByID(ctx, pinID)
	if err != nil {
		return nil, fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}
	if pin == nil || !pin.VisibleTo(author) {
		return nil, model.NewPinNotFoundError()
	}

	comment := &model.Comment{
		PinID:    pinID,
		AuthorID: author.UserID,
		Content:  content,
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, fmt.Errorf("コメントの作成に失敗しました: %w", err)
	}

	s.metrics.RecordCommentCreated()
	slog.Info("comment created",
		slog.Int64("comment_id", comment.ID),
		slog.Int64("pin_id", pinID),
		slog.Int64("author_id", author.UserID),
	)
	return comment, nil
}

// ListComments は表示可能なピンのコメントのうち、非表示閾値未満のものを返す。
func (s *Service) ListComments(ctx context.Context, requester model.Viewer, pinID int64) ([]*model.Comment, error) {
	if _, err := s.GetPin(ctx, requester, pinID); err != nil {
		return nil, err
	}

	comments, err := s.commentRepo.ListVisibleByPin(ctx, pinID)
	if err != nil {
		return nil, fmt.Errorf("コメント一覧の取得に失敗しました: %w", err)
	}
	return comments, nil
}

// RawContent はピン本文をそのまま返す。可視性による絞り込みは行わない。
func (s *Service) RawContent(ctx context.Context, id int64) (string, error) {
	pin, err := s.pinRepo.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("ピンの取得に失敗しました: %w", err)
	}
	if pin == nil {
		return "", model.NewNotFoundError("pin")
	}
	return pin.Content, nil
}
