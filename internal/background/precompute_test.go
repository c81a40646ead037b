package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
)

func newCache() *cache.Manager {
	return cache.NewManager(cache.NewMemory(1000), "test:", zap.NewNop())
}

func testBackgroundConfig() core.BackgroundConfig {
	return core.BackgroundConfig{
		PrecomputeEnabled: true,
		PollInterval:      5 * time.Millisecond,
		PollTimeout:       200 * time.Millisecond,
		InterMoodSleep:    time.Millisecond,
	}
}

type stubRunner struct {
	mu      sync.Mutex
	prompts []string
	delay   time.Duration
	fail    map[string]bool
}

func (s *stubRunner) Run(ctx context.Context, userID, prompt string) (*core.WorkflowState, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	fail := s.fail[prompt]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if fail {
		return nil, errors.New("upstream down")
	}

	state := core.NewWorkflowState("s-"+prompt, userID, prompt)
	state.Transition(core.StatusCompleted, "completed")
	state.Recommendations = []core.TrackRecommendation{{TrackID: "t-" + prompt}}
	return state, nil
}

func (s *stubRunner) ranPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func TestManager_TracksAndShutsDown(t *testing.T) {
	m := NewManager(zap.NewNop())

	started := make(chan struct{})
	var cancelled atomic.Bool
	m.Spawn("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started

	if got := m.ActiveTasks(); len(got) != 1 || got[0] != "long" {
		t.Fatalf("ActiveTasks = %v", got)
	}

	m.Shutdown()
	if !cancelled.Load() {
		t.Error("shutdown must cancel running tasks")
	}
	if len(m.ActiveTasks()) != 0 {
		t.Error("tasks must untrack themselves on exit")
	}

	m.Spawn("late", func(context.Context) { t.Error("must not run after shutdown") })
	time.Sleep(10 * time.Millisecond)
}

func TestPrecompute_SweepCachesAllMoods(t *testing.T) {
	runner := &stubRunner{}
	cm := newCache()
	p := NewPrecompute(testBackgroundConfig(), runner, cm, zap.NewNop())

	p.sweep(context.Background())

	for _, mood := range popularMoods {
		entry, ok := p.Cached(context.Background(), mood)
		if !ok {
			t.Fatalf("mood %q not cached", mood)
		}
		if entry.MoodKey != mood || len(entry.Recommendations) != 1 {
			t.Errorf("bad entry for %q: %+v", mood, entry)
		}
	}
	if got := len(runner.ranPrompts()); got != len(popularMoods) {
		t.Errorf("expected %d runs, got %d", len(popularMoods), got)
	}
}

func TestPrecompute_SkipsCachedMoods(t *testing.T) {
	runner := &stubRunner{}
	cm := newCache()
	p := NewPrecompute(testBackgroundConfig(), runner, cm, zap.NewNop())

	cm.Set(context.Background(), cache.CategoryPopularMood,
		&PopularMoodEntry{MoodKey: popularMoods[0]}, popularMoods[0])

	p.sweep(context.Background())

	for _, prompt := range runner.ranPrompts() {
		if prompt == popularMoods[0] {
			t.Errorf("cached mood %q must be skipped", prompt)
		}
	}
	if got := len(runner.ranPrompts()); got != len(popularMoods)-1 {
		t.Errorf("expected %d runs, got %d", len(popularMoods)-1, got)
	}
}

func TestPrecompute_FailedMoodDoesNotStopSweep(t *testing.T) {
	runner := &stubRunner{fail: map[string]bool{popularMoods[1]: true}}
	cm := newCache()
	p := NewPrecompute(testBackgroundConfig(), runner, cm, zap.NewNop())

	p.sweep(context.Background())

	if _, ok := p.Cached(context.Background(), popularMoods[1]); ok {
		t.Error("failed mood must not be cached")
	}
	if _, ok := p.Cached(context.Background(), popularMoods[2]); !ok {
		t.Error("sweep must continue past a failed mood")
	}
}

func TestPrecompute_PollTimeout(t *testing.T) {
	config := testBackgroundConfig()
	config.PollTimeout = 20 * time.Millisecond
	runner := &stubRunner{delay: time.Second}
	p := NewPrecompute(config, runner, newCache(), zap.NewNop())

	err := p.computeOne(context.Background(), "happy_energetic")
	if !errors.Is(err, core.ErrWorkflowTimeout) {
		t.Errorf("expected ErrWorkflowTimeout, got %v", err)
	}
}

func TestPrecompute_DisabledDoesNotSpawn(t *testing.T) {
	config := testBackgroundConfig()
	config.PrecomputeEnabled = false
	p := NewPrecompute(config, &stubRunner{}, newCache(), zap.NewNop())

	m := NewManager(zap.NewNop())
	p.Start(m)
	if len(m.ActiveTasks()) != 0 {
		t.Error("disabled precompute must not spawn a task")
	}
	m.Shutdown()
}

type stubWarmer struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubWarmer) Warm(_ context.Context, token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, token+"/"+userID)
	return nil
}

type stubTokens struct {
	err error
}

func (s *stubTokens) EnsureValidToken(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "tok", nil
}

func TestWarmUser(t *testing.T) {
	m := NewManager(zap.NewNop())
	warmer := &stubWarmer{}

	WarmUser(m, warmer, &stubTokens{}, "u1", zap.NewNop())
	m.Shutdown()

	warmer.mu.Lock()
	defer warmer.mu.Unlock()
	if len(warmer.calls) != 1 || warmer.calls[0] != "tok/u1" {
		t.Errorf("warm calls = %v", warmer.calls)
	}
}

func TestWarmUser_NoTokenIsSilent(t *testing.T) {
	m := NewManager(zap.NewNop())
	warmer := &stubWarmer{}

	WarmUser(m, warmer, &stubTokens{err: &core.AuthError{Message: "none", RequiresReauth: true}}, "u1", zap.NewNop())
	m.Shutdown()

	warmer.mu.Lock()
	defer warmer.mu.Unlock()
	if len(warmer.calls) != 0 {
		t.Errorf("warm must be skipped without a token, got %v", warmer.calls)
	}
}
