// Package worker — пер-аккаунтный движок рассылки. Один воркер владеет одной
// авторизованной сессией и крутит бесконечный цикл: снимок конфигурации,
// свежее сообщение «Избранного», проход по целям с политикой повторов, пауза.
// Воркеры независимы друг от друга; общих данных между ними нет.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"telegram-forwarder/internal/forward"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/urlparse"
)

// State — фаза жизненного цикла воркера.
type State int32

const (
	StateInit State = iota
	StateAuth
	StateReady
	StateRunning
	StateWaiting
	StateTerminated
)

// String возвращает имя фазы для логов.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAuth:
		return "auth"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrExpired возвращается из Run, когда срок аккаунта истёк: супервизор
// переводит аккаунт в start=false.
var ErrExpired = errors.New("account expired")

// emptyTargetsSleep — пауза цикла при пустом списке целей.
const emptyTargetsSleep = 30 * time.Second

// Config — живой снимок параметров аккаунта. Пишется супервизором, читается
// воркером; цели фиксируются на границе цикла, задержка перечитывается на
// каждой паузе.
type Config struct {
	Delay   time.Duration
	Mode    store.ForwardMode
	Expiry  time.Time
	Targets []string // активные цели в сохранённом порядке
}

// engine — операции пересылки, которые нужны циклу. Реализуется
// forward.Forwarder; в тестах подставляется фейк.
type engine interface {
	FetchLatestSaved(ctx context.Context) (*tg.Message, error)
	Forward(ctx context.Context, msg *tg.Message, ent *urlparse.Entity, mode store.ForwardMode) forward.Result
}

// resolver разрешает разобранную цель в сущность.
type resolver interface {
	Resolve(ctx context.Context, p urlparse.Parsed) (*urlparse.Entity, error)
}

// Stats — накопленная статистика воркера за всё время работы.
type Stats struct {
	SuccessCount int64
	FailedCount  int64
	LastTargets  int64
	StartedAt    time.Time
}

// Worker ведёт цикл рассылки одного аккаунта.
type Worker struct {
	accountID int64
	engine    engine
	resolver  resolver
	policy    forward.RetryPolicy
	recorder  *stats.Recorder // nil — статистика не пишется
	now       func() time.Time

	mu       sync.Mutex
	cfg      Config
	entities map[string]*urlparse.Entity // кэш разрешённых целей, url → entity

	state   atomic.Int32
	stop    chan struct{}
	stopped sync.Once

	successCount atomic.Int64
	failedCount  atomic.Int64
	lastTargets  atomic.Int64
	startedAt    time.Time
}

// Option настраивает воркер при создании.
type Option func(*Worker)

// WithRecorder подключает запись сессий цикла в bbolt.
func WithRecorder(r *stats.Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithRetryPolicy заменяет политику повторов по умолчанию.
func WithRetryPolicy(p forward.RetryPolicy) Option {
	return func(w *Worker) { w.policy = p }
}

// WithClock заменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New создаёт воркер в состоянии INIT.
func New(accountID int64, eng engine, res resolver, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		accountID: accountID,
		engine:    eng,
		resolver:  res,
		policy:    forward.DefaultRetryPolicy(),
		now:       time.Now,
		cfg:       cfg,
		entities:  map[string]*urlparse.Entity{},
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AccountID возвращает идентификатор аккаунта.
func (w *Worker) AccountID() int64 { return w.accountID }

// State возвращает текущую фазу.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// Stop просит воркер завершиться. Идемпотентен; текущая пауза или проход по
// целям прерывается на ближайшей точке прерывания.
func (w *Worker) Stop() {
	w.stopped.Do(func() { close(w.stop) })
}

// Stats возвращает накопленные счётчики.
func (w *Worker) Stats() Stats {
	return Stats{
		SuccessCount: w.successCount.Load(),
		FailedCount:  w.failedCount.Load(),
		LastTargets:  w.lastTargets.Load(),
		StartedAt:    w.startedAt,
	}
}

// UpdateConfig подменяет живую конфигурацию. Изменение списка целей сбрасывает
// кэш разрешённых сущностей; параметры подхватываются на следующей границе
// чтения, цели — на границе цикла.
func (w *Worker) UpdateConfig(cfg Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !equalTargets(w.cfg.Targets, cfg.Targets) {
		w.entities = map[string]*urlparse.Entity{}
	}
	w.cfg = cfg
}

func equalTargets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// snapshot возвращает копию конфигурации для одного цикла.
func (w *Worker) snapshot() Config {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg := w.cfg
	cfg.Targets = append([]string(nil), w.cfg.Targets...)
	return cfg
}

// delay перечитывает живую задержку: правка супервизора видна на ближайшей паузе.
func (w *Worker) delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg.Delay
}

// cachedEntity возвращает сущность из кэша воркера.
func (w *Worker) cachedEntity(url string) (*urlparse.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ent, ok := w.entities[url]
	return ent, ok
}

func (w *Worker) cacheEntity(url string, ent *urlparse.Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[url] = ent
}

// Run выполняет авторизацию и крутит циклы до остановки. authorize выполняет
// фазу AUTH (проверку/восстановление сессии); фатальный провал авторизации
// завершает воркер. Возврат ErrExpired означает истечение срока аккаунта.
func (w *Worker) Run(ctx context.Context, authorize func(ctx context.Context) error) error {
	defer w.setState(StateTerminated)
	w.startedAt = w.now()

	w.setState(StateAuth)
	if authorize != nil {
		if err := authorize(ctx); err != nil {
			return errors.Wrap(err, "authorize")
		}
	}
	w.setState(StateReady)
	logger.Info("worker ready", zap.Int64("account", w.accountID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		default:
		}

		w.setState(StateRunning)
		if err := w.runCycle(ctx); err != nil {
			return err
		}

		w.setState(StateWaiting)
		if !w.sleep(ctx, w.delay()) {
			return nil
		}
	}
}

// runCycle — один проход по целям. Ошибка возвращается только фатальная
// (истечение срока, отзыв авторизации); всё остальное фиксируется в итогах
// цикла, и воркер продолжает.
func (w *Worker) runCycle(ctx context.Context) error {
	cfg := w.snapshot()
	started := w.now()

	if !cfg.Expiry.IsZero() && w.now().After(cfg.Expiry) {
		logger.Warn("account expired, stopping", zap.Int64("account", w.accountID))
		return ErrExpired
	}

	if len(cfg.Targets) == 0 {
		logger.Debug("no active targets, skipping cycle", zap.Int64("account", w.accountID))
		w.sleep(ctx, emptyTargetsSleep)
		return nil
	}
	w.lastTargets.Store(int64(len(cfg.Targets)))

	msg, err := w.engine.FetchLatestSaved(ctx)
	if errors.Is(err, forward.ErrEmptySaved) {
		logger.Warn("saved messages are empty, nothing to forward", zap.Int64("account", w.accountID))
		return nil
	}
	if err != nil {
		if isAuthFatal(err) {
			return errors.Wrap(err, "fetch source")
		}
		logger.Error("fetch source message failed",
			zap.Int64("account", w.accountID), zap.Error(err))
		return nil
	}

	session := stats.Session{
		AccountID: w.accountID,
		StartedAt: started,
		Targets:   len(cfg.Targets),
		ByType:    map[string]int{},
		Errors:    map[string]int{},
	}

	for i, url := range cfg.Targets {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		default:
		}

		retryAfter := w.forwardTarget(ctx, msg, url, cfg.Mode, &session)

		if i == len(cfg.Targets)-1 {
			break
		}
		// Пауза перед следующей целью: серверный retry_after вытесняет
		// обычную межцелевую задержку.
		pause := w.delay()
		if retryAfter > 0 {
			pause = retryAfter
		}
		if !w.sleep(ctx, pause) {
			return nil
		}
	}

	session.FinishedAt = w.now()
	w.finishSession(session, forward.Preview(msg))
	return nil
}

// forwardTarget — одна цель под политикой повторов. Возвращает retry_after,
// который нужно выдержать перед следующей целью вместо обычной задержки.
func (w *Worker) forwardTarget(ctx context.Context, msg *tg.Message, url string, mode store.ForwardMode, session *stats.Session) time.Duration {
	parsed := urlparse.Parse(url)
	if !parsed.IsValid() {
		w.recordFailure(session, url, forward.ErrInvalidTarget, errors.New("unrecognized target format"))
		return 0
	}

	ent, ok := w.cachedEntity(url)
	if !ok {
		resolved, err := w.resolver.Resolve(ctx, parsed)
		if err != nil {
			kind, _ := forward.Classify(err)
			if kind == forward.ErrNone || kind == forward.ErrUnknown {
				kind = forward.ErrInvalidTarget
			}
			w.recordFailure(session, url, kind, err)
			return 0
		}
		if resolved.JoinAttempted {
			logger.Info("joined chat via invite",
				zap.Int64("account", w.accountID),
				zap.String("target", url),
				zap.Bool("join_successful", resolved.JoinSuccessful))
		}
		w.cacheEntity(url, resolved)
		ent = resolved
	}

	for attempt := 1; ; {
		res := w.engine.Forward(ctx, msg, ent, mode)
		if res.Success {
			w.successCount.Add(1)
			session.Sent++
			session.ByType[string(res.Type)]++
			logger.Success("forwarded",
				zap.Int64("account", w.accountID),
				zap.String("target", url),
				zap.String("type", string(res.Type)),
				zap.Bool("topic_fallback", res.FellBack),
				zap.Duration("elapsed", res.Elapsed))
			return 0
		}

		decision := w.policy.Decide(res.Kind, attempt, res.RetryAfter)
		if !decision.Retry {
			w.recordFailure(session, url, res.Kind, res.Err)
			return decision.Sleep
		}

		logger.Warn("forward attempt failed, retrying",
			zap.Int64("account", w.accountID),
			zap.String("target", url),
			zap.String("kind", string(res.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("sleep", decision.Sleep))
		if !w.sleep(ctx, decision.Sleep) {
			w.recordFailure(session, url, res.Kind, res.Err)
			return 0
		}
		if decision.CountsAttempt {
			attempt++
		}
	}
}

// recordFailure фиксирует отказ цели в счётчиках и логе.
func (w *Worker) recordFailure(session *stats.Session, url string, kind forward.ErrorKind, err error) {
	w.failedCount.Add(1)
	session.Failed++
	session.Errors[string(kind)]++
	logger.Error("forward failed",
		zap.Int64("account", w.accountID),
		zap.String("target", url),
		zap.String("kind", string(kind)),
		zap.Error(err))
}

// finishSession пишет итог цикла в статистику и сводный лог.
func (w *Worker) finishSession(session stats.Session, preview string) {
	if w.recorder != nil {
		if err := w.recorder.Record(session); err != nil {
			logger.Error("record cycle session failed",
				zap.Int64("account", w.accountID), zap.Error(err))
		}
	}
	logger.Stat("cycle finished",
		zap.Int64("account", w.accountID),
		zap.Int("targets", session.Targets),
		zap.Int("sent", session.Sent),
		zap.Int("failed", session.Failed),
		zap.Duration("duration", session.FinishedAt.Sub(session.StartedAt)),
		zap.String("source", preview))
}

// sleep ждёт d с прерыванием по контексту и Stop. false — пора завершаться.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

// isAuthFatal — серверные состояния, после которых сессия непригодна и воркер
// должен завершиться.
func isAuthFatal(err error) bool {
	return tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	)
}
