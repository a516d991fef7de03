package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"telegram-forwarder/internal/forward"
	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/urlparse"
	"telegram-forwarder/internal/worker"
)

// fakeEngine выдаёт фиксированное исходное сообщение и скриптуемый исход
// пересылки; цели узнаются по Title сущности.
type fakeEngine struct {
	mu      sync.Mutex
	outcome func(target string, attempt int) forward.Result
	calls   []string
	perTgt  map[string]int
}

func newFakeEngine(outcome func(target string, attempt int) forward.Result) *fakeEngine {
	return &fakeEngine{outcome: outcome, perTgt: map[string]int{}}
}

func (f *fakeEngine) FetchLatestSaved(_ context.Context) (*tg.Message, error) {
	return &tg.Message{ID: 1, Message: "latest"}, nil
}

func (f *fakeEngine) Forward(_ context.Context, _ *tg.Message, ent *urlparse.Entity, _ store.ForwardMode) forward.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, ent.Title)
	f.perTgt[ent.Title]++
	if f.outcome == nil {
		return forward.Result{Success: true, Type: forward.TypeText}
	}
	return f.outcome(ent.Title, f.perTgt[ent.Title])
}

func (f *fakeEngine) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeResolver возвращает сущность с Title, равным исходной строке цели.
type fakeResolver struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, p urlparse.Parsed) (*urlparse.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	return &urlparse.Entity{Kind: urlparse.EntityChannel, Title: p.Raw}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastPolicy() forward.RetryPolicy {
	return forward.RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, FloodWaitEnabled: true}
}

func testConfig(targets ...string) worker.Config {
	return worker.Config{
		Delay:   time.Millisecond,
		Mode:    store.ModePreserveOriginal,
		Targets: targets,
	}
}

// runUntil запускает воркер и ждёт завершения Run.
func runUntil(t *testing.T, ctx context.Context, w *worker.Worker) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, nil) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish in time")
		return nil
	}
}

func TestCycleVisitsTargetsInOrder(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	w := worker.New(1, eng, &fakeResolver{}, testConfig("@one1x", "@two2x", "@three3x"),
		worker.WithRetryPolicy(fastPolicy()))

	go func() {
		for len(eng.callLog()) < 3 {
			time.Sleep(time.Millisecond)
		}
		w.Stop()
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	calls := eng.callLog()
	if len(calls) < 3 || calls[0] != "@one1x" || calls[1] != "@two2x" || calls[2] != "@three3x" {
		t.Fatalf("calls = %v", calls)
	}
	if st := w.Stats(); st.SuccessCount < 3 || st.LastTargets != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if w.State() != worker.StateTerminated {
		t.Fatalf("state = %v, want terminated", w.State())
	}
}

func TestExpiredAccountStopsBeforeTargets(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	cfg := testConfig("@one1x")
	cfg.Expiry = time.Now().Add(-time.Second)
	w := worker.New(1, eng, &fakeResolver{}, cfg)

	err := runUntil(t, context.Background(), w)
	if !errors.Is(err, worker.ErrExpired) {
		t.Fatalf("Run() error = %v, want ErrExpired", err)
	}
	if len(eng.callLog()) != 0 {
		t.Fatal("expired account must not attempt targets")
	}
}

func TestStopInterruptsEmptyTargetsSleep(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	w := worker.New(1, eng, &fakeResolver{}, testConfig())

	started := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Stop()
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatal("stop did not interrupt the empty-targets sleep")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(func(_ string, attempt int) forward.Result {
		if attempt == 1 {
			return forward.Result{Kind: forward.ErrUnknown}
		}
		return forward.Result{Success: true, Type: forward.TypeText}
	})
	w := worker.New(1, eng, &fakeResolver{}, testConfig("@one1x"),
		worker.WithRetryPolicy(fastPolicy()))

	go func() {
		for len(eng.callLog()) < 2 {
			time.Sleep(time.Millisecond)
		}
		w.Stop()
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st := w.Stats(); st.SuccessCount < 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestFailFastAdvancesToNextTarget(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(func(target string, _ int) forward.Result {
		if target == "@bad1x" {
			return forward.Result{Kind: forward.ErrAccessDenied}
		}
		return forward.Result{Success: true, Type: forward.TypeText}
	})
	w := worker.New(1, eng, &fakeResolver{}, testConfig("@bad1x", "@good1x"),
		worker.WithRetryPolicy(fastPolicy()))

	go func() {
		for len(eng.callLog()) < 2 {
			time.Sleep(time.Millisecond)
		}
		w.Stop()
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if eng.perTgt["@bad1x"] != 1 {
		t.Fatalf("fail-fast target attempted %d times, want 1", eng.perTgt["@bad1x"])
	}
	st := w.Stats()
	if st.FailedCount < 1 || st.SuccessCount < 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestEntityCacheReusedAcrossCycles(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	res := &fakeResolver{}
	w := worker.New(1, eng, res, testConfig("@one1x"),
		worker.WithRetryPolicy(fastPolicy()))

	go func() {
		for len(eng.callLog()) < 3 {
			time.Sleep(time.Millisecond)
		}
		w.Stop()
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.callCount() != 1 {
		t.Fatalf("resolver called %d times, want 1 (entity cached)", res.callCount())
	}
}

func TestUpdateConfigTakesEffectNextCycle(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	res := &fakeResolver{}
	w := worker.New(1, eng, res, testConfig("@one1x"),
		worker.WithRetryPolicy(fastPolicy()))

	go func() {
		for len(eng.callLog()) < 1 {
			time.Sleep(time.Millisecond)
		}
		w.UpdateConfig(testConfig("@one1x", "@two2x"))
		for {
			calls := eng.callLog()
			for _, c := range calls {
				if c == "@two2x" {
					w.Stop()
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := runUntil(t, context.Background(), w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Сброс кэша после смены списка: обе цели резолвились заново.
	if res.callCount() < 2 {
		t.Fatalf("resolver calls = %d, want >= 2 after target list change", res.callCount())
	}
}

func TestContextCancelTerminates(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine(nil)
	w := worker.New(1, eng, &fakeResolver{}, testConfig("@one1x"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := runUntil(t, ctx, w); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if w.State() != worker.StateTerminated {
		t.Fatalf("state = %v, want terminated", w.State())
	}
}
