// Package poller は一定間隔でリモートの状態を取得し、ローカルのスナップショットと
// 同期するポーリング状態機械を提供する。
//
// 状態遷移: Idle → Fetching → (Updated | Unchanged | Failed) → Idle
//
// 取得に失敗した場合は直前のスナップショットを保持し、次のティックまで再試行しない。
// 楽観的に適用したローカル変更は、取得結果に反映されるかPendingTTLを過ぎるまで
// 取得結果の上に再適用される。
package poller

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// DefaultInterval はポーリング間隔の既定値。
const DefaultInterval = 2 * time.Second

// DefaultPendingTTL は未確認のローカル変更を保持する期間の既定値。
const DefaultPendingTTL = 30 * time.Second

// State はポーラーの状態。
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateUpdated   State = "updated"
	StateUnchanged State = "unchanged"
	StateFailed    State = "failed"
)

// Source はスナップショットの取得元。
type Source[T any] interface {
	Fetch(ctx context.Context) (T, error)
}

// SourceFunc は関数をSourceとして扱うためのアダプタ。
type SourceFunc[T any] func(ctx context.Context) (T, error)

// Fetch はf(ctx)を呼び出す。
func (f SourceFunc[T]) Fetch(ctx context.Context) (T, error) {
	return f(ctx)
}

// Mutation は楽観的に適用するローカル変更。
type Mutation[T any] struct {
	// Apply はスナップショットに変更を適用した値を返す。引数を破壊してはならない。
	Apply func(T) T
	// Confirmed は取得結果に変更が反映済みかを返す。nilの場合は常に未反映とみなす。
	Confirmed func(T) bool
}

// Config はポーラーの設定。
type Config[T any] struct {
	Interval   time.Duration // 0の場合はDefaultInterval
	PendingTTL time.Duration // 0の場合はDefaultPendingTTL

	// Equal はスナップショットの同値判定。nilの場合はreflect.DeepEqualを使用する。
	Equal func(a, b T) bool
	// OnChange はスナップショットが変化したときに呼ばれる。
	OnChange func(T)
	// OnTransition は状態遷移のたびに呼ばれる。
	OnTransition func(State)

	Logger *slog.Logger
	Now    func() time.Time
}

type pendingMutation[T any] struct {
	mutation  Mutation[T]
	appliedAt time.Time
}

// Poller は一定間隔でSourceからスナップショットを取得する。
type Poller[T any] struct {
	source Source[T]
	cfg    Config[T]

	mu          sync.Mutex
	state       State
	snapshot    T
	hasSnapshot bool
	lastErr     error
	pending     []pendingMutation[T]
	running     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New はPollerを生成する。
func New[T any](source Source[T], cfg Config[T]) *Poller[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.Equal == nil {
		cfg.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller[T]{
		source: source,
		cfg:    cfg,
		state:  StateIdle,
	}
}

// Start は起動直後に1回取得し、その後は固定間隔のティックごとに取得する。
// 前回の結果に関わらず間隔は一定で、取得中に到来したティックは破棄する。
// コンテキストのキャンセルまたはStopで停止し、実行中の取得の完了を待って戻る。
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.running {
		p.mu.Unlock()
		p.cfg.Logger.Warn("poller already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.cfg.Logger.Debug("poller started", slog.Duration("interval", p.cfg.Interval))

	p.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.cfg.Logger.Debug("poller stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.RunOnce(ctx)
			drain(ticker.C)
		}
	}
}

// Stop はポーリングを停止し、Startが戻るまで待つ。
// 停止後に新たな取得は開始されず、Startを再度呼んでも何もしない。
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce は1回の取得と照合を実行し、結果の状態を返す。
// 取得中にコンテキストがキャンセルされた場合は結果を破棄してStateIdleを返す。
func (p *Poller[T]) RunOnce(ctx context.Context) State {
	p.transition(StateFetching)

	value, err := p.source.Fetch(ctx)
	if ctx.Err() != nil {
		p.transition(StateIdle)
		return StateIdle
	}

	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		p.cfg.Logger.Warn("poll failed", slog.String("error", err.Error()))
		p.transition(StateFailed)
		p.transition(StateIdle)
		return StateFailed
	}

	outcome, changed, snapshot := p.reconcile(value)
	p.transition(outcome)
	if changed && p.cfg.OnChange != nil {
		p.cfg.OnChange(snapshot)
	}
	p.transition(StateIdle)
	return outcome
}

// Apply はローカル変更をスナップショットに楽観的に適用する。
// 実行中の取得は中断しない。
func (p *Poller[T]) Apply(m Mutation[T]) {
	p.mu.Lock()
	prev := p.snapshot
	p.snapshot = m.Apply(p.snapshot)
	p.pending = append(p.pending, pendingMutation[T]{mutation: m, appliedAt: p.cfg.Now()})
	changed := !p.cfg.Equal(prev, p.snapshot)
	snapshot := p.snapshot
	p.mu.Unlock()

	if changed && p.cfg.OnChange != nil {
		p.cfg.OnChange(snapshot)
	}
}

// Snapshot は現在のスナップショットと、一度でも取得または変更済みかを返す。
func (p *Poller[T]) Snapshot() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot, p.hasSnapshot || len(p.pending) > 0
}

// State は現在の状態を返す。
func (p *Poller[T]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError は直近の取得エラーを返す。成功するとnilに戻る。
func (p *Poller[T]) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Pending は未確認のローカル変更の数を返す。
func (p *Poller[T]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// reconcile は取得結果に未確認の変更を再適用し、スナップショットを更新する。
func (p *Poller[T]) reconcile(fetched T) (State, bool, T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	value := fetched
	kept := p.pending[:0]
	for _, pm := range p.pending {
		if now.Sub(pm.appliedAt) > p.cfg.PendingTTL {
			continue
		}
		if pm.mutation.Confirmed != nil && pm.mutation.Confirmed(fetched) {
			continue
		}
		value = pm.mutation.Apply(value)
		kept = append(kept, pm)
	}
	clear(p.pending[len(kept):])
	p.pending = kept

	changed := !p.hasSnapshot || !p.cfg.Equal(p.snapshot, value)
	p.snapshot = value
	p.hasSnapshot = true
	p.lastErr = nil

	if changed {
		return StateUpdated, true, value
	}
	return StateUnchanged, false, value
}

func (p *Poller[T]) transition(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(s)
	}
}

// drain は取得中に溜まったティックを読み捨てる。
func drain(c <-chan time.Time) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}
