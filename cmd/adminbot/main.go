// Команда adminbot — управляющий бот: редактирует документы хранилища по
// командам операторов. Движок пересылки подхватывает изменения сам, общего
// процесса у них нет.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"telegram-forwarder/internal/adminbot"
	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/pr"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
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

	if env.BotToken == "" {
		logger.Fatal("BOT_TOKEN is required for the admin bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, err := stats.Open(env.StatsFile())
	if err != nil {
		logger.Warn("stats storage unavailable, /stats disabled", zap.Error(err))
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
	if err := st.EnsureDefaults(); err != nil {
		logger.Fatal("failed to prepare store documents", zap.Error(err))
	}

	bot, err := adminbot.New(env.BotToken, st, env, recorder)
	if err != nil {
		logger.Fatal("failed to create admin bot", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		bot.Stop()
	}()

	if err := bot.Start(ctx); err != nil {
		logger.Fatal("admin bot failed", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}
