// Package supervisor — процессный уровень движка: реестр воркеров по
// аккаунтам, запуск при старте, наблюдение за документами на диске и живое
// применение диффов (старт/стоп воркеров, обновление задержек, режимов,
// сроков и списков целей). На один аккаунт никогда не существует двух
// воркеров одновременно.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/telegram/auth"
	"telegram-forwarder/internal/worker"
)

// stopTimeout — предел ожидания чистой остановки воркера.
const stopTimeout = 10 * time.Second

// restartDelay — пауза перед перезапуском неожиданно упавшего воркера.
const restartDelay = 5 * time.Second

// handle — один управляемый воркер и рычаги его остановки.
type handle struct {
	acc    store.Account
	w      *worker.Worker
	cancel context.CancelFunc
	done   chan struct{} // закрывается после завершения Run воркера
}

// Supervisor владеет реестром воркеров и применяет изменения конфигурации.
type Supervisor struct {
	st           *store.Store
	launcher     launcher
	now          func() time.Time
	restartDelay time.Duration

	mu       sync.Mutex
	runCtx   context.Context // контекст жизни супервизора, задаётся в Bootstrap
	policy   store.GlobalPolicy
	accounts map[string]store.Account
	workers  map[string]*handle
}

// Option настраивает супервизор при создании.
type Option func(*Supervisor)

// WithClock заменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New создаёт супервизор поверх хранилища и launcher'а.
func New(st *store.Store, l launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		st:           st,
		launcher:     l,
		now:          time.Now,
		restartDelay: restartDelay,
		accounts:     map[string]store.Account{},
		workers:      map[string]*handle{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap загружает документы и поднимает воркеров для всех включённых и
// неистёкших аккаунтов. Провал авторизации одного аккаунта не мешает
// остальным: такой аккаунт просто остаётся без воркера.
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	if err := s.st.EnsureDefaults(); err != nil {
		return errors.Wrap(err, "ensure default documents")
	}

	policy, err := s.st.LoadPolicy()
	if err != nil {
		return errors.Wrap(err, "load global policy")
	}
	accounts, err := s.st.LoadAccounts()
	if err != nil {
		return errors.Wrap(err, "load accounts")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	s.policy = policy
	s.accounts = accounts

	for id, acc := range accounts {
		if !acc.Eligible(s.now()) {
			logger.Debug("account not eligible at startup",
				zap.String("account", id),
				zap.Bool("start", acc.Start),
				zap.Bool("expired", acc.IsExpired(s.now())))
			continue
		}
		s.startWorkerLocked(ctx, acc)
	}
	logger.Info("supervisor bootstrapped",
		zap.Int("accounts", len(accounts)),
		zap.Int("workers", len(s.workers)))
	return nil
}

// WorkerCount возвращает число живых воркеров.
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Running сообщает, есть ли воркер у аккаунта.
func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[id]
	return ok
}

// startWorkerLocked поднимает воркер аккаунта. Вызывается под s.mu; если
// воркер уже есть, ничего не делает.
func (s *Supervisor) startWorkerLocked(ctx context.Context, acc store.Account) {
	if _, exists := s.workers[acc.ID]; exists {
		return
	}

	cfg := s.workerConfigLocked(acc)
	runCtx, cancel := context.WithCancel(ctx)
	w, errCh := s.launcher.Launch(runCtx, acc, cfg)

	h := &handle{acc: acc, w: w, cancel: cancel, done: make(chan struct{})}
	s.workers[acc.ID] = h
	logger.Info("worker started", zap.String("account", acc.ID), zap.String("phone", acc.Phone))

	go s.monitor(acc.ID, h, errCh)
}

// monitor ждёт завершения воркера и разбирает итог: истечение срока переводит
// аккаунт в start=false, прочие ошибки фиксируются в логе.
func (s *Supervisor) monitor(id string, h *handle, errCh <-chan error) {
	err := <-errCh
	close(h.done)

	s.mu.Lock()
	if s.workers[id] == h {
		delete(s.workers, id)
	}
	s.mu.Unlock()
	h.cancel()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("worker stopped", zap.String("account", id))
	case errors.Is(err, worker.ErrExpired):
		logger.Warn("worker stopped: account expired", zap.String("account", id))
		if mErr := s.st.MutateAccount(id, func(a *store.Account) { a.Start = false }); mErr != nil {
			logger.Error("mark expired account stopped failed",
				zap.String("account", id), zap.Error(mErr))
		}
	default:
		logger.Error("worker stopped unexpectedly", zap.String("account", id), zap.Error(err))
		if restartable(err) {
			go s.restartAfter(id, s.restartDelay)
		}
	}
}

// restartable — сбои, после которых перезапуск имеет смысл. Непригодная
// сессия и headless-пропуск авторизации будут падать снова, их не перезапускаем.
func restartable(err error) bool {
	if errors.Is(err, auth.ErrHeadless) {
		return false
	}
	return !tgerr.Is(err,
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	)
}

// restartAfter поднимает воркер аккаунта заново после паузы, если аккаунт всё
// ещё включён и воркера за это время не появилось.
func (s *Supervisor) restartAfter(id string, d time.Duration) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(d):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok || !acc.Eligible(s.now()) {
		return
	}
	if _, running := s.workers[id]; running {
		return
	}
	logger.Info("restarting worker after failure", zap.String("account", id))
	s.startWorkerLocked(ctx, acc)
}

// stopWorkerLocked останавливает воркер и ждёт чистого завершения не дольше
// stopTimeout. Вызывается под s.mu.
func (s *Supervisor) stopWorkerLocked(id string) {
	h, ok := s.workers[id]
	if !ok {
		return
	}
	delete(s.workers, id)

	h.w.Stop()
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		logger.Warn("worker did not stop in time", zap.String("account", id))
	}
}

// workerConfigLocked собирает живую конфигурацию воркера: эффективные
// параметры с учётом глобальной политики и активные цели в сохранённом
// порядке. Вызывается под s.mu.
func (s *Supervisor) workerConfigLocked(acc store.Account) worker.Config {
	targets, err := s.st.TargetsFor(acc.ID)
	if err != nil {
		logger.Error("load targets failed", zap.String("account", acc.ID), zap.Error(err))
	}
	urls := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Active {
			urls = append(urls, t.URL)
		}
	}

	return worker.Config{
		Delay:   acc.EffectiveDelay(s.policy),
		Mode:    acc.EffectiveMode(s.policy),
		Expiry:  acc.Expiry,
		Targets: urls,
	}
}

// ReloadCredentials перечитывает документ аккаунтов и применяет дифф:
// рёбра start, истечение срока, смена параметров, удаление аккаунтов.
func (s *Supervisor) ReloadCredentials(ctx context.Context) {
	accounts, err := s.st.LoadAccounts()
	if err != nil {
		logger.Error("reload credentials failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, acc := range accounts {
		eligible := acc.Eligible(s.now())
		h, running := s.workers[id]

		switch {
		case eligible && !running:
			s.startWorkerLocked(ctx, acc)
		case !eligible && running:
			logger.Info("stopping worker",
				zap.String("account", id),
				zap.Bool("start", acc.Start),
				zap.Bool("expired", acc.IsExpired(s.now())))
			s.stopWorkerLocked(id)
		case eligible && running:
			h.acc = acc
			h.w.UpdateConfig(s.workerConfigLocked(acc))
		}
	}

	// Аккаунты, исчезнувшие из документа.
	for id := range s.accounts {
		if _, still := accounts[id]; !still {
			logger.Info("account removed, stopping worker", zap.String("account", id))
			s.stopWorkerLocked(id)
		}
	}
	s.accounts = accounts
}

// ReloadTargets перечитывает списки целей и раздаёт их живым воркерам.
// Смена списка сбрасывает кэш сущностей воркера; работающий цикл дойдёт до
// конца на старом снимке, новый список вступает со следующего цикла.
func (s *Supervisor) ReloadTargets() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.workers {
		h.w.UpdateConfig(s.workerConfigLocked(h.acc))
	}
	logger.Debug("targets rebound", zap.Int("workers", len(s.workers)))
}

// ReloadPolicy перечитывает глобальную политику. Воркеры с mode_set=true не
// затрагиваются: их эффективные параметры не зависят от умолчаний.
func (s *Supervisor) ReloadPolicy() {
	policy, err := s.st.LoadPolicy()
	if err != nil {
		logger.Error("reload global policy failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy

	for _, h := range s.workers {
		h.w.UpdateConfig(s.workerConfigLocked(h.acc))
	}
	logger.Info("global policy rebound")
}

// StopAll останавливает всех воркеров с ожиданием чистого завершения.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.stopWorkerLocked(id)
	}
	s.mu.Unlock()
	logger.Info("all workers stopped")
}
