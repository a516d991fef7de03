package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/concurrency"
	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/infra/logger"
)

// debounceWindow — окно сглаживания событий watcher'а: редакторы и атомарные
// записи порождают серии событий по одному файлу.
const debounceWindow = 2 * time.Second

// Run поднимает воркеров и держит цикл наблюдения за каталогом документов до
// отмены контекста. На выходе все воркеры останавливаются.
func (s *Supervisor) Run(ctx context.Context, env config.EnvConfig) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	defer s.StopAll()
	return s.watch(ctx, env)
}

// watch диспетчеризует события файлов документов в перезагрузки с дебаунсом
// на каждый файл. Изменения документа операторов движок не трогают: его
// читает только админ-бот.
func (s *Supervisor) watch(ctx context.Context, env config.EnvConfig) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create fs watcher")
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(env.DatabaseDir); err != nil {
		return errors.Wrap(err, "watch database dir")
	}

	deb := concurrency.NewDebouncer(debounceWindow)
	deb.Start(ctx)
	defer deb.Stop()

	credentialsName := filepath.Base(env.CredentialsFile())
	targetsName := filepath.Base(env.TargetsFile())
	policyName := filepath.Base(env.GlobalPolicyFile())

	logger.Info("watching database dir", zap.String("dir", env.DatabaseDir))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			switch filepath.Base(ev.Name) {
			case credentialsName:
				deb.Do(credentialsName, func() { s.ReloadCredentials(ctx) })
			case targetsName:
				deb.Do(targetsName, s.ReloadTargets)
			case policyName:
				deb.Do(policyName, s.ReloadPolicy)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("fs watcher error", zap.Error(watchErr))
		}
	}
}
