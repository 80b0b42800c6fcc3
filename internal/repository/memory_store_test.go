package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/pinshare/internal/model"
)

func newTestStore(t *testing.T) (*MemoryStore, *model.User) {
	t.Helper()
	s := NewMemoryStore()
	u := &model.User{Username: "alice", PasswordHash: "x"}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return s, u
}

func createPin(t *testing.T, s *MemoryStore, authorID int64, title string) *model.Pin {
	t.Helper()
	p := &model.Pin{Title: title, Content: "print(1)", AuthorID: authorID, Tags: []string{"go"}}
	if err := s.Pins().Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create pin: %v", err)
	}
	return p
}

func TestMemoryUserRepo_Create_DuplicateUsername(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()

	err := s.Users().Create(ctx, &model.User{Username: "alice", PasswordHash: "other"})
	if !errors.Is(err, model.ErrUsernameTaken) {
		t.Fatalf("error = %v, want UsernameTaken", err)
	}

	// 大文字小文字は区別する
	if err := s.Users().Create(ctx, &model.User{Username: "Alice", PasswordHash: "y"}); err != nil {
		t.Fatalf("case-different username should be accepted: %v", err)
	}

	got, _ := s.Users().FindByUsername(ctx, "alice")
	if got.PasswordHash != alice.PasswordHash {
		t.Errorf("existing credential changed: %q", got.PasswordHash)
	}
}

func TestMemoryUserRepo_Search_OrderedByID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Bob", "malice", "carol"} {
		if err := s.Users().Create(ctx, &model.User{Username: name}); err != nil {
			t.Fatal(err)
		}
	}

	users, err := s.Users().Search(ctx, "ALI", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Username != "alice" || users[1].Username != "malice" {
		t.Errorf("Search(ALI) = %v", usernames(users))
	}

	limited, _ := s.Users().Search(ctx, "", 2)
	if len(limited) != 2 || limited[0].ID >= limited[1].ID {
		t.Errorf("Search limit/order broken: %v", usernames(limited))
	}
}

func TestMemoryPinRepo_IncrementViews_Concurrent(t *testing.T) {
	s, alice := newTestStore(t)
	pin := createPin(t, s, alice.ID, "Hi")

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Pins().IncrementViews(context.Background(), pin.ID); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Pins().FindByID(context.Background(), pin.ID)
	if got.Views != n {
		t.Errorf("views = %d, want %d", got.Views, n)
	}
}

func TestMemoryReportRepo_Record_ConcurrentSameActor(t *testing.T) {
	s, alice := newTestStore(t)
	pin := createPin(t, s, alice.ID, "Hi")

	const n = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reports().Record(context.Background(), &model.ReportGuard{
				ActorID: 99, TargetKind: model.TargetPin, TargetID: pin.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrAlreadyReported):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || already != n-1 {
		t.Errorf("successes=%d already=%d, want 1 and %d", successes, already, n-1)
	}
	got, _ := s.Pins().FindByID(context.Background(), pin.ID)
	if got.Reports != 1 {
		t.Errorf("reports = %d, want 1", got.Reports)
	}
}

func TestMemoryReportRepo_Record_MissingTargetLeavesNoGuard(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reports().Record(ctx, &model.ReportGuard{ActorID: 1, TargetKind: model.TargetComment, TargetID: 42})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("error = %v, want NotFound", err)
	}
	exists, _ := s.Reports().Exists(ctx, 1, model.TargetComment, 42)
	if exists {
		t.Error("guard should not be created for missing target")
	}
}

func TestMemoryPinRepo_List_VisibilityAndLimit(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()

	visible := createPin(t, s, alice.ID, "visible")
	hidden := createPin(t, s, alice.ID, "hidden")
	if _, err := s.Pins().RaiseReports(ctx, hidden.ID, model.HidePinThreshold); err != nil {
		t.Fatal(err)
	}
	private := &model.Pin{Title: "private", Content: "x", AuthorID: alice.ID, IsPrivate: true}
	if err := s.Pins().Create(ctx, private); err != nil {
		t.Fatal(err)
	}

	other, _ := s.Pins().List(ctx, PinQuery{Viewer: model.Viewer{UserID: 2}, Sort: model.PinSortNewest})
	if len(other) != 1 || other[0].ID != visible.ID {
		t.Errorf("other viewer sees %v, want only %d", pinIDs(other), visible.ID)
	}

	own, _ := s.Pins().List(ctx, PinQuery{Viewer: alice.Viewer(), Sort: model.PinSortNewest})
	if len(own) != 3 {
		t.Errorf("author sees %d pins, want 3", len(own))
	}

	limited, _ := s.Pins().List(ctx, PinQuery{Viewer: alice.Viewer(), Sort: model.PinSortOldest, Limit: 1})
	if len(limited) != 1 || limited[0].ID != visible.ID {
		t.Errorf("limited = %v, want [%d]", pinIDs(limited), visible.ID)
	}
}

func TestMemoryPinRepo_RaiseReports_IsMonotonic(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()
	pin := createPin(t, s, alice.ID, "Hi")

	if _, err := s.Pins().RaiseReports(ctx, pin.ID, 1000); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Pins().RaiseReports(ctx, pin.ID, model.TakedownReports)
	if got.Reports != 1000 {
		t.Errorf("reports = %d, want 1000", got.Reports)
	}

	missing, err := s.Pins().RaiseReports(ctx, 404, 1)
	if err != nil || missing != nil {
		t.Errorf("RaiseReports(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryPinRepo_CreatedAtIsStrictlyIncreasing(t *testing.T) {
	s, alice := newTestStore(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	a := createPin(t, s, alice.ID, "a")
	b := createPin(t, s, alice.ID, "b")
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Errorf("created_at not increasing: %v, %v", a.CreatedAt, b.CreatedAt)
	}
}

func TestMemoryPinRepo_ReturnsCopies(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()
	pin := createPin(t, s, alice.ID, "Hi")

	got, _ := s.Pins().FindByID(ctx, pin.ID)
	got.Tags[0] = "mutated"
	got.Views = 100

	again, _ := s.Pins().FindByID(ctx, pin.ID)
	if again.Tags[0] != "go" || again.Views != 0 {
		t.Errorf("store was mutated through returned pointer: %+v", again)
	}
	if again.AuthorName != "alice" {
		t.Errorf("AuthorName = %q, want alice", again.AuthorName)
	}
}

func TestMemoryCommentRepo_ListVisibleByPin(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()
	pin := createPin(t, s, alice.ID, "Hi")

	var ids []int64
	for _, body := range []string{"first", "second", "third"} {
		c := &model.Comment{PinID: pin.ID, AuthorID: alice.ID, Content: body}
		if err := s.Comments().Create(ctx, c); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}

	for actor := int64(10); actor < 10+model.HideCommentThreshold; actor++ {
		if _, err := s.Reports().Record(ctx, &model.ReportGuard{ActorID: actor, TargetKind: model.TargetComment, TargetID: ids[1]}); err != nil {
			t.Fatal(err)
		}
	}

	comments, _ := s.Comments().ListVisibleByPin(ctx, pin.ID)
	if len(comments) != 2 || comments[0].ID != ids[0] || comments[1].ID != ids[2] {
		t.Errorf("visible comments = %+v", comments)
	}
}

func TestMemoryFavoriteRepo_Idempotent(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()
	p1 := createPin(t, s, alice.ID, "one")
	p2 := createPin(t, s, alice.ID, "two")

	for i := 0; i < 2; i++ {
		if err := s.Favorites().Add(ctx, &model.Favorite{UserID: alice.ID, PinID: p1.ID}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Favorites().Add(ctx, &model.Favorite{UserID: alice.ID, PinID: p2.ID}); err != nil {
		t.Fatal(err)
	}

	ids, _ := s.Favorites().ListPinIDs(ctx, alice.ID)
	if len(ids) != 2 || ids[0] != p2.ID || ids[1] != p1.ID {
		t.Errorf("ListPinIDs = %v, want [%d %d]", ids, p2.ID, p1.ID)
	}

	for i := 0; i < 2; i++ {
		if err := s.Favorites().Remove(ctx, alice.ID, p1.ID); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := s.Favorites().Exists(ctx, alice.ID, p1.ID); ok {
		t.Error("favorite should be removed")
	}
}

func TestMemorySessionRepo_ExpiryAndCleanup(t *testing.T) {
	s, alice := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Sessions().Create(ctx, &model.Session{ID: "live", UserID: alice.ID, ExpiresAt: now.Add(time.Hour)})
	_ = s.Sessions().Create(ctx, &model.Session{ID: "dead", UserID: alice.ID, ExpiresAt: now.Add(-time.Hour)})

	if got, _ := s.Sessions().FindByID(ctx, "dead"); got != nil {
		t.Error("expired session should not be returned")
	}
	n, _ := s.Sessions().DeleteExpired(ctx)
	if n != 1 {
		t.Errorf("DeleteExpired = %d, want 1", n)
	}
	if err := s.Sessions().DeleteByUserID(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Sessions().FindByID(ctx, "live"); got != nil {
		t.Error("session should be deleted with user")
	}
}

func pinIDs(pins []*model.Pin) []int64 {
	ids := make([]int64, len(pins))
	for i, p := range pins {
		ids[i] = p.ID
	}
	return ids
}

func usernames(users []*model.User) []string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Username
	}
	return names
}
