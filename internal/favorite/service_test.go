package favorite

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/pinshare/internal/model"
	"github.com/hitoshi/pinshare/internal/repository"
)

// --- モック定義 ---

type mockFavoriteRepo struct {
	repository.FavoriteRepository
	removeFn func(ctx context.Context, userID, pinID int64) error
}

func (m *mockFavoriteRepo) Remove(ctx context.Context, userID, pinID int64) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, userID, pinID)
	}
	return nil
}

var _ repository.FavoriteRepository = (*mockFavoriteRepo)(nil)

func setup(t *testing.T) (*Service, *repository.MemoryStore, model.Viewer, model.Viewer) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	alice := &model.User{Username: "alice"}
	bob := &model.User{Username: "bob"}
	for _, u := range []*model.User{alice, bob} {
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	return NewService(store.Favorites(), store.Pins()), store, alice.Viewer(), bob.Viewer()
}

func createPin(t *testing.T, store *repository.MemoryStore, author model.Viewer, private bool) *model.Pin {
	t.Helper()
	p := &model.Pin{Title: "t", Content: "c", AuthorID: author.UserID, IsPrivate: private}
	if err := store.Pins().Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

// --- テスト ---

func TestToggle_TwiceLeavesOneEdge(t *testing.T) {
	svc, store, alice, _ := setup(t)
	ctx := context.Background()
	pin := createPin(t, store, alice, false)

	for i := 0; i < 2; i++ {
		if err := svc.Toggle(ctx, alice, pin.ID, true); err != nil {
			t.Fatalf("Toggle #%d: %v", i+1, err)
		}
	}

	ids, err := svc.List(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != pin.ID {
		t.Errorf("favorites = %v, want [%d]", ids, pin.ID)
	}
	ok, _ := svc.IsFavorite(ctx, alice, pin.ID)
	if !ok {
		t.Error("IsFavorite should be true")
	}
}

func TestToggle_RemoveIsIdempotent(t *testing.T) {
	svc, store, alice, _ := setup(t)
	ctx := context.Background()
	pin := createPin(t, store, alice, false)

	_ = svc.Toggle(ctx, alice, pin.ID, true)
	for i := 0; i < 2; i++ {
		if err := svc.Toggle(ctx, alice, pin.ID, false); err != nil {
			t.Fatalf("remove #%d: %v", i+1, err)
		}
	}
	// 存在しないピンの削除も成功する
	if err := svc.Toggle(ctx, alice, 9999, false); err != nil {
		t.Errorf("removing unknown pin: %v", err)
	}
	if ok, _ := svc.IsFavorite(ctx, alice, pin.ID); ok {
		t.Error("IsFavorite should be false")
	}
}

func TestToggle_RequiresVisiblePin(t *testing.T) {
	svc, store, alice, bob := setup(t)
	ctx := context.Background()
	private := createPin(t, store, alice, true)

	if err := svc.Toggle(ctx, bob, private.ID, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("invisible pin error = %v, want NotFound", err)
	}
	if err := svc.Toggle(ctx, bob, 9999, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing pin error = %v, want NotFound", err)
	}
	if err := svc.Toggle(ctx, alice, private.ID, true); err != nil {
		t.Errorf("author favoriting own private pin: %v", err)
	}
	if err := svc.Toggle(ctx, model.Anonymous, private.ID, true); !errors.Is(err, model.ErrNotAuthorized) {
		t.Errorf("anonymous error = %v, want NotAuthorized", err)
	}
}

func TestList_NewestFirstPerUser(t *testing.T) {
	svc, store, alice, bob := setup(t)
	ctx := context.Background()
	p1 := createPin(t, store, alice, false)
	p2 := createPin(t, store, alice, false)

	_ = svc.Toggle(ctx, alice, p1.ID, true)
	_ = svc.Toggle(ctx, alice, p2.ID, true)
	_ = svc.Toggle(ctx, bob, p1.ID, true)

	ids, _ := svc.List(ctx, alice)
	if len(ids) != 2 || ids[0] != p2.ID || ids[1] != p1.ID {
		t.Errorf("alice favorites = %v, want [%d %d]", ids, p2.ID, p1.ID)
	}
	bobIDs, _ := svc.List(ctx, bob)
	if len(bobIDs) != 1 {
		t.Errorf("bob favorites = %v", bobIDs)
	}
	anon, _ := svc.List(ctx, model.Anonymous)
	if len(anon) != 0 {
		t.Errorf("anonymous favorites = %v", anon)
	}
}

func TestToggle_RepositoryError(t *testing.T) {
	repo := &mockFavoriteRepo{
		removeFn: func(ctx context.Context, userID, pinID int64) error {
			return errors.New("db down")
		},
	}
	svc := NewService(repo, nil)

	err := svc.Toggle(context.Background(), model.Viewer{UserID: 1}, 1, false)
	if err == nil {
		t.Fatal("expected error")
	}
}
