package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック定義 ---

// scriptedSource は呼び出しごとに用意した結果を順に返すSource。
type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

type result struct {
	value []int
	err   error
}

func (s *scriptedSource) Fetch(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := s.results[i]
	return slices.Clone(r.value), r.err
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(src Source[[]int], cfg Config[[]int]) *Poller[[]int] {
	cfg.Logger = quietLogger()
	return New[[]int](src, cfg)
}

// appendMutation は値を末尾に追加し、取得結果に含まれれば確認済みとする変更を返す。
func appendMutation(v int) Mutation[[]int] {
	return Mutation[[]int]{
		Apply: func(s []int) []int {
			return append(slices.Clone(s), v)
		},
		Confirmed: func(s []int) bool {
			return slices.Contains(s, v)
		},
	}
}

// --- テスト ---

func TestRunOnce_Transitions(t *testing.T) {
	src := &scriptedSource{results: []result{
		{value: []int{1}},
		{value: []int{1}},
		{err: errors.New("network down")},
		{value: []int{1, 2}},
	}}
	var transitions []State
	p := newTestPoller(src, Config[[]int]{
		OnTransition: func(s State) { transitions = append(transitions, s) },
	})
	ctx := context.Background()

	want := []State{StateUpdated, StateUnchanged, StateFailed, StateUpdated}
	for i, w := range want {
		if got := p.RunOnce(ctx); got != w {
			t.Errorf("RunOnce #%d = %s, want %s", i+1, got, w)
		}
		if p.State() != StateIdle {
			t.Errorf("state after RunOnce #%d = %s, want idle", i+1, p.State())
		}
	}

	wantTransitions := []State{
		StateFetching, StateUpdated, StateIdle,
		StateFetching, StateUnchanged, StateIdle,
		StateFetching, StateFailed, StateIdle,
		StateFetching, StateUpdated, StateIdle,
	}
	if !slices.Equal(transitions, wantTransitions) {
		t.Errorf("transitions = %v, want %v", transitions, wantTransitions)
	}
}

func TestRunOnce_FailureKeepsSnapshot(t *testing.T) {
	src := &scriptedSource{results: []result{
		{value: []int{1, 2, 3}},
		{err: errors.New("timeout")},
	}}
	p := newTestPoller(src, Config[[]int]{})
	ctx := context.Background()

	p.RunOnce(ctx)
	if got := p.RunOnce(ctx); got != StateFailed {
		t.Fatalf("RunOnce = %s, want failed", got)
	}

	snap, ok := p.Snapshot()
	if !ok || !slices.Equal(snap, []int{1, 2, 3}) {
		t.Errorf("snapshot = %v, %v; want previous value", snap, ok)
	}
	if p.LastError() == nil {
		t.Error("LastError should be set after failure")
	}
	if src.callCount() != 2 {
		t.Errorf("fetch called %d times, want 2 (no retry)", src.callCount())
	}
}

func TestRunOnce_OnChangeOnlyWhenUpdated(t *testing.T) {
	src := &scriptedSource{results: []result{
		{value: []int{1}},
		{value: []int{1}},
		{value: []int{2}},
	}}
	var changes [][]int
	p := newTestPoller(src, Config[[]int]{
		OnChange: func(v []int) { changes = append(changes, v) },
	})

	for i := 0; i < 3; i++ {
		p.RunOnce(context.Background())
	}
	if len(changes) != 2 || changes[0][0] != 1 || changes[1][0] != 2 {
		t.Errorf("changes = %v, want [[1] [2]]", changes)
	}
}

func TestApply_ReappliedUntilConfirmed(t *testing.T) {
	src := &scriptedSource{results: []result{
		{value: []int{1}},
		{value: []int{1}},    // サーバーにはまだ反映されていない
		{value: []int{1, 9}}, // 反映済み
	}}
	p := newTestPoller(src, Config[[]int]{})
	ctx := context.Background()

	p.RunOnce(ctx)
	p.Apply(appendMutation(9))

	snap, _ := p.Snapshot()
	if !slices.Equal(snap, []int{1, 9}) {
		t.Fatalf("optimistic snapshot = %v, want [1 9]", snap)
	}

	if got := p.RunOnce(ctx); got != StateUnchanged {
		t.Errorf("stale fetch outcome = %s, want unchanged", got)
	}
	snap, _ = p.Snapshot()
	if !slices.Equal(snap, []int{1, 9}) {
		t.Errorf("snapshot after stale fetch = %v, want [1 9]", snap)
	}
	if p.Pending() != 1 {
		t.Errorf("pending = %d, want 1", p.Pending())
	}

	p.RunOnce(ctx)
	snap, _ = p.Snapshot()
	if !slices.Equal(snap, []int{1, 9}) {
		t.Errorf("snapshot after confirmation = %v, want [1 9] without duplicate", snap)
	}
	if p.Pending() != 0 {
		t.Errorf("pending = %d, want 0", p.Pending())
	}
}

func TestApply_ExpiredMutationDropped(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	src := &scriptedSource{results: []result{{value: []int{1}}}}
	p := newTestPoller(src, Config[[]int]{PendingTTL: 10 * time.Second, Now: clock})
	ctx := context.Background()

	p.RunOnce(ctx)
	p.Apply(appendMutation(5))

	clockMu.Lock()
	now = now.Add(11 * time.Second)
	clockMu.Unlock()

	if got := p.RunOnce(ctx); got != StateUpdated {
		t.Errorf("outcome = %s, want updated (rollback of expired change)", got)
	}
	snap, _ := p.Snapshot()
	if !slices.Equal(snap, []int{1}) {
		t.Errorf("snapshot = %v, want [1]", snap)
	}
	if p.Pending() != 0 {
		t.Errorf("pending = %d, want 0", p.Pending())
	}
}

func TestApply_DuringInFlightFetch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	src := SourceFunc[[]int](func(ctx context.Context) ([]int, error) {
		close(started)
		<-release
		return []int{1}, nil
	})
	p := newTestPoller(src, Config[[]int]{})

	done := make(chan State)
	go func() { done <- p.RunOnce(context.Background()) }()

	<-started
	if p.State() != StateFetching {
		t.Errorf("state = %s, want fetching", p.State())
	}
	p.Apply(appendMutation(7))
	close(release)
	<-done

	snap, _ := p.Snapshot()
	if !slices.Equal(snap, []int{1, 7}) {
		t.Errorf("snapshot = %v, want [1 7]", snap)
	}
}

func TestStart_FetchesImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[[]int](func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1}, nil
	})
	p := newTestPoller(src, Config[[]int]{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("calls right after start = %d, want 1", calls.Load())
	}

	time.Sleep(70 * time.Millisecond)
	cancel()
	<-done

	if n := calls.Load(); n < 3 {
		t.Errorf("calls = %d, want at least 3", n)
	}
}

func TestStart_SlowFetchDropsTicks(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[[]int](func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return []int{1}, nil
	})
	p := newTestPoller(src, Config[[]int]{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	// 取得中のティックは積み上がらないため、呼び出し回数は取得時間で律速される
	if n := calls.Load(); n > 4 {
		t.Errorf("calls = %d, want at most 4", n)
	}
}

func TestStop_NoFetchAfterTeardown(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc[[]int](func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1}, nil
	})
	p := newTestPoller(src, Config[[]int]{Interval: 5 * time.Millisecond})

	go p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Errorf("fetch ran after Stop: %d -> %d", after, calls.Load())
	}

	// 停止後のStartは何もしない
	p.Start(context.Background())
	if calls.Load() != after {
		t.Error("Start after Stop should not fetch")
	}
}

func TestRunOnce_CancelledDuringFetchDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := SourceFunc[[]int](func(ctx context.Context) ([]int, error) {
		cancel()
		return []int{42}, nil
	})
	p := newTestPoller(src, Config[[]int]{})

	if got := p.RunOnce(ctx); got != StateIdle {
		t.Errorf("RunOnce = %s, want idle", got)
	}
	if _, ok := p.Snapshot(); ok {
		t.Error("result fetched during teardown should be discarded")
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New[[]int](SourceFunc[[]int](func(ctx context.Context) ([]int, error) { return nil, nil }), Config[[]int]{})
	if p.cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", p.cfg.Interval, DefaultInterval)
	}
	if p.cfg.PendingTTL != DefaultPendingTTL {
		t.Errorf("PendingTTL = %v, want %v", p.cfg.PendingTTL, DefaultPendingTTL)
	}
	if p.State() != StateIdle {
		t.Errorf("initial state = %s, want idle", p.State())
	}
}
