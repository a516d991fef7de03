// Команда forwarder — движок пересылки: поднимает воркеров для включённых
// аккаунтов и следит за документами хранилища, применяя изменения на лету.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/pr"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/supervisor"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assign stdout and stderr", zap.Error(err))
	}

	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	logger.Init(env.LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if env.FileLogs {
		logger.EnableFileSinks(env.LogsDir)
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := stats.Open(env.StatsFile())
	if err != nil {
		logger.Warn("stats storage unavailable, continuing without it", zap.Error(err))
		recorder = nil
	} else {
		defer func() { _ = recorder.Close() }()
	}

	st := store.New(store.Paths{
		Credentials:  env.CredentialsFile(),
		Targets:      env.TargetsFile(),
		Operators:    env.OperatorsFile(),
		GlobalPolicy: env.GlobalPolicyFile(),
	})

	s := supervisor.New(st, supervisor.NewTelegramLauncher(env, recorder))
	if err := s.Run(ctx, env); err != nil {
		logger.Fatal("forwarding engine failed", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}
