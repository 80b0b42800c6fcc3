package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/pinshare/internal/model"
)

// MemoryStore はプロセス内で完結する共有ストア。
// 全テーブルを1つのミューテックスで保護し、通報ガードの確認とカウンタ更新を
// 同一のクリティカルセクションで実行する。
// STORAGE_BACKEND=memory での起動とサービス層のテストで使用する。
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[int64]*model.User
	usernames   map[string]int64
	sessions    map[string]*model.Session
	pins        map[int64]*model.Pin
	comments    map[int64]*model.Comment
	favorites   map[favoriteKey]*model.Favorite
	guards      map[guardKey]*model.ReportGuard
	nextUserID  int64
	nextPinID   int64
	nextComment int64
	lastCreated time.Time
}

type favoriteKey struct {
	userID int64
	pinID  int64
}

type guardKey struct {
	actorID  int64
	kind     model.TargetKind
	targetID int64
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		users:     make(map[int64]*model.User),
		usernames: make(map[string]int64),
		sessions:  make(map[string]*model.Session),
		pins:      make(map[int64]*model.Pin),
		comments:  make(map[int64]*model.Comment),
		favorites: make(map[favoriteKey]*model.Favorite),
		guards:    make(map[guardKey]*model.ReportGuard),
	}
}

// SetClock は作成日時の採番に使う時計を差し替える。テスト用。
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Users はUserRepositoryとしてのビューを返す。
func (s *MemoryStore) Users() UserRepository { return memoryUserRepo{s} }

// Sessions はSessionRepositoryとしてのビューを返す。
func (s *MemoryStore) Sessions() SessionRepository { return memorySessionRepo{s} }

// Pins はPinRepositoryとしてのビューを返す。
func (s *MemoryStore) Pins() PinRepository { return memoryPinRepo{s} }

// Comments はCommentRepositoryとしてのビューを返す。
func (s *MemoryStore) Comments() CommentRepository { return memoryCommentRepo{s} }

// Favorites はFavoriteRepositoryとしてのビューを返す。
func (s *MemoryStore) Favorites() FavoriteRepository { return memoryFavoriteRepo{s} }

// Reports はReportRepositoryとしてのビューを返す。
func (s *MemoryStore) Reports() ReportRepository { return memoryReportRepo{s} }

// createdAt は単調増加する作成日時を返す。呼び出し側でロックを保持すること。
// 同一時刻に作成されたエンティティでも作成順と日時の順序が一致する。
func (s *MemoryStore) createdAt() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastCreated) {
		t = s.lastCreated.Add(time.Microsecond)
	}
	s.lastCreated = t
	return t
}

// pinView は投稿者情報を結合したピンのコピーを返す。呼び出し側でロックを保持すること。
func (s *MemoryStore) pinView(p *model.Pin) *model.Pin {
	cp := *p
	cp.Tags = slices.Clone(p.Tags)
	if cp.Tags == nil {
		cp.Tags = []string{}
	}
	if u, ok := s.users[p.AuthorID]; ok {
		cp.AuthorName = u.Username
		cp.AuthorVerified = u.IsVerified
	}
	return &cp
}

// commentView は投稿者情報を結合したコメントのコピーを返す。呼び出し側でロックを保持すること。
func (s *MemoryStore) commentView(c *model.Comment) *model.Comment {
	cp := *c
	if u, ok := s.users[c.AuthorID]; ok {
		cp.AuthorName = u.Username
		cp.AuthorVerified = u.IsVerified
	}
	return &cp
}

// --- users ---

type memoryUserRepo struct{ s *MemoryStore }

func (r memoryUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r memoryUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.usernames[username]
	if !ok {
		return nil, nil
	}
	cp := *r.s.users[id]
	return &cp, nil
}

func (r memoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.usernames[user.Username]; ok {
		return model.NewUsernameTakenError(user.Username)
	}
	r.s.nextUserID++
	now := r.s.now().UTC()
	user.ID = r.s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.s.users[user.ID] = &cp
	r.s.usernames[user.Username] = user.ID
	return nil
}

func (r memoryUserRepo) SetFlag(ctx context.Context, id int64, flag model.UserFlag, value bool) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	switch flag {
	case model.UserFlagVerified:
		u.IsVerified = value
	case model.UserFlagBanned:
		u.IsBanned = value
	case model.UserFlagAdmin:
		u.IsAdmin = value
	default:
		return nil, model.NewValidationError("flag")
	}
	u.UpdatedAt = r.s.now().UTC()
	cp := *u
	return &cp, nil
}

func (r memoryUserRepo) Search(ctx context.Context, query string, limit int) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q := strings.ToLower(query)
	users := []*model.User{}
	for _, u := range r.s.users {
		if strings.Contains(strings.ToLower(u.Username), q) {
			cp := *u
			users = append(users, &cp)
		}
	}
	slices.SortFunc(users, func(a, b *model.User) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// --- sessions ---

type memorySessionRepo struct{ s *MemoryStore }

func (r memorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *session
	r.s.sessions[session.ID] = &cp
	return nil
}

func (r memorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.now()) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (r memorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

func (r memorySessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

func (r memorySessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- pins ---

type memoryPinRepo struct{ s *MemoryStore }

func (r memoryPinRepo) Create(ctx context.Context, pin *model.Pin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextPinID++
	stored := *pin
	stored.ID = r.s.nextPinID
	stored.CreatedAt = r.s.createdAt()
	stored.Views = 0
	stored.Reports = 0
	stored.Tags = slices.Clone(pin.Tags)
	r.s.pins[stored.ID] = &stored
	*pin = *r.s.pinView(&stored)
	return nil
}

func (r memoryPinRepo) FindByID(ctx context.Context, id int64) (*model.Pin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pins[id]
	if !ok {
		return nil, nil
	}
	return r.s.pinView(p), nil
}

func (r memoryPinRepo) FindByIDs(ctx context.Context, ids []int64) ([]*model.Pin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pins := []*model.Pin{}
	for _, id := range ids {
		if p, ok := r.s.pins[id]; ok {
			pins = append(pins, r.s.pinView(p))
		}
	}
	return pins, nil
}

func (r memoryPinRepo) List(ctx context.Context, q PinQuery) ([]*model.Pin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pins := []*model.Pin{}
	for _, p := range r.s.pins {
		if !p.VisibleTo(q.Viewer) || !p.MatchesSearch(q.Search) {
			continue
		}
		pins = append(pins, r.s.pinView(p))
	}
	model.SortPins(pins, q.Sort)
	if q.Limit > 0 && len(pins) > q.Limit {
		pins = pins[:q.Limit]
	}
	return pins, nil
}

func (r memoryPinRepo) IncrementViews(ctx context.Context, id int64) (*model.Pin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pins[id]
	if !ok {
		return nil, nil
	}
	p.Views++
	return r.s.pinView(p), nil
}

func (r memoryPinRepo) RaiseReports(ctx context.Context, id int64, minReports int) (*model.Pin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pins[id]
	if !ok {
		return nil, nil
	}
	p.Reports = max(p.Reports, minReports)
	return r.s.pinView(p), nil
}

// --- comments ---

type memoryCommentRepo struct{ s *MemoryStore }

func (r memoryCommentRepo) Create(ctx context.Context, comment *model.Comment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pins[comment.PinID]; !ok {
		return model.NewPinNotFoundError()
	}
	r.s.nextComment++
	stored := *comment
	stored.ID = r.s.nextComment
	stored.CreatedAt = r.s.createdAt()
	stored.Reports = 0
	r.s.comments[stored.ID] = &stored
	*comment = *r.s.commentView(&stored)
	return nil
}

func (r memoryCommentRepo) FindByID(ctx context.Context, id int64) (*model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comments[id]
	if !ok {
		return nil, nil
	}
	return r.s.commentView(c), nil
}

func (r memoryCommentRepo) ListVisibleByPin(ctx context.Context, pinID int64) ([]*model.Comment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	comments := []*model.Comment{}
	for _, c := range r.s.comments {
		if c.PinID == pinID && !c.Hidden() {
			comments = append(comments, r.s.commentView(c))
		}
	}
	slices.SortFunc(comments, func(a, b *model.Comment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return comments, nil
}

// --- favorites ---

type memoryFavoriteRepo struct{ s *MemoryStore }

func (r memoryFavoriteRepo) Add(ctx context.Context, fav *model.Favorite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := favoriteKey{fav.UserID, fav.PinID}
	if _, ok := r.s.favorites[key]; ok {
		return nil
	}
	cp := *fav
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = r.s.createdAt()
	r.s.favorites[key] = &cp
	return nil
}

func (r memoryFavoriteRepo) Remove(ctx context.Context, userID, pinID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.favorites, favoriteKey{userID, pinID})
	return nil
}

func (r memoryFavoriteRepo) Exists(ctx context.Context, userID, pinID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.favorites[favoriteKey{userID, pinID}]
	return ok, nil
}

func (r memoryFavoriteRepo) ListPinIDs(ctx context.Context, userID int64) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	favs := []*model.Favorite{}
	for k, f := range r.s.favorites {
		if k.userID == userID {
			favs = append(favs, f)
		}
	}
	slices.SortFunc(favs, func(a, b *model.Favorite) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.PinID, b.PinID)
	})
	ids := make([]int64, len(favs))
	for i, f := range favs {
		ids[i] = f.PinID
	}
	return ids, nil
}

// --- reports ---

type memoryReportRepo struct{ s *MemoryStore }

func (r memoryReportRepo) Record(ctx context.Context, guard *model.ReportGuard) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := guardKey{guard.ActorID, guard.TargetKind, guard.TargetID}
	if _, ok := r.s.guards[key]; ok {
		return 0, model.NewAlreadyReportedError()
	}

	var reports int
	switch guard.TargetKind {
	case model.TargetPin:
		p, ok := r.s.pins[guard.TargetID]
		if !ok {
			return 0, model.NewNotFoundError(string(guard.TargetKind))
		}
		p.Reports++
		reports = p.Reports
	case model.TargetComment:
		c, ok := r.s.comments[guard.TargetID]
		if !ok {
			return 0, model.NewNotFoundError(string(guard.TargetKind))
		}
		c.Reports++
		reports = c.Reports
	default:
		return 0, model.NewValidationError("target_kind")
	}

	cp := *guard
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.CreatedAt = r.s.now().UTC()
	r.s.guards[key] = &cp
	return reports, nil
}

func (r memoryReportRepo) Exists(ctx context.Context, actorID int64, kind model.TargetKind, targetID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.guards[guardKey{actorID, kind, targetID}]
	return ok, nil
}

// compile-time interface check
var (
	_ UserRepository     = memoryUserRepo{}
	_ SessionRepository  = memorySessionRepo{}
	_ PinRepository      = memoryPinRepo{}
	_ CommentRepository  = memoryCommentRepo{}
	_ FavoriteRepository = memoryFavoriteRepo{}
	_ ReportRepository   = memoryReportRepo{}
)
