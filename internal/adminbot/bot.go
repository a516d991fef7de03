// Package adminbot — управляющая поверхность движка: бот-сессия Telegram с
// командами операторов. Бот не трогает воркеров напрямую: все эффекты идут
// через персистентные документы, изменения которых супервизор подхватывает
// по событиям файловой системы.
//
// Раскладка пакета:
//   - bot.go      — Bot, жизненный цикл (Start/Stop), маршрутизация, ответы
//   - commands.go — операции над аккаунтами и целями
//   - enroll.go   — многошаговая регистрация аккаунта (код входа по SMS)
//   - admins.go   — управление операторами (только primary)
package adminbot

import (
	"context"
	"sync"
	"time"

	gotgbot "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
)

// sender — исходящий канал ответов оператору. Выделен из *gotgbot.Bot, чтобы
// обработчики можно было проверять без сети.
type sender interface {
	SendMessage(chatID int64, text string, opts *gotgbot.SendMessageOpts) (*gotgbot.Message, error)
}

// Bot — админ-бот поверх Bot API. Состояние незавершённых регистраций живёт
// в памяти и ключуется по id оператора.
type Bot struct {
	api      *gotgbot.Bot
	out      sender
	updater  *ext.Updater
	st       *store.Store
	env      config.EnvConfig
	recorder *stats.Recorder // nil — команда /stats недоступна

	mu      sync.Mutex
	pending map[int64]*enrolment
}

// New создаёт бота и проверяет токен.
func New(token string, st *store.Store, env config.EnvConfig, recorder *stats.Recorder) (*Bot, error) {
	api, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create bot api instance")
	}
	return &Bot{
		api:      api,
		out:      api,
		st:       st,
		env:      env,
		recorder: recorder,
		pending:  map[int64]*enrolment{},
	}, nil
}

// Start запускает long polling и блокируется до Stop.
func (b *Bot) Start(ctx context.Context) error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(_ *gotgbot.Bot, _ *ext.Context, err error) ext.DispatcherAction {
			logger.Error("admin bot update failed", zap.Error(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	b.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", b.help))
	dispatcher.AddHandler(handlers.NewCommand("help", b.help))
	dispatcher.AddHandler(handlers.NewCommand("accounts", b.accounts))
	dispatcher.AddHandler(handlers.NewCommand("add", b.addAccount(ctx)))
	dispatcher.AddHandler(handlers.NewCommand("cancel", b.cancelFlow))
	dispatcher.AddHandler(handlers.NewCommand("toggle", b.toggle))
	dispatcher.AddHandler(handlers.NewCommand("delay", b.setDelay))
	dispatcher.AddHandler(handlers.NewCommand("mode", b.setMode))
	dispatcher.AddHandler(handlers.NewCommand("expiry", b.setExpiry))
	dispatcher.AddHandler(handlers.NewCommand("targets", b.listTargets))
	dispatcher.AddHandler(handlers.NewCommand("addtargets", b.addTargets))
	dispatcher.AddHandler(handlers.NewCommand("deltargets", b.deleteTargets))
	dispatcher.AddHandler(handlers.NewCommand("delaccount", b.deleteAccount))
	dispatcher.AddHandler(handlers.NewCommand("admins", b.listAdmins))
	dispatcher.AddHandler(handlers.NewCommand("addadmin", b.addAdmin))
	dispatcher.AddHandler(handlers.NewCommand("removeadmin", b.removeAdmin))
	dispatcher.AddHandler(handlers.NewCommand("setlimit", b.setLimit))
	dispatcher.AddHandler(handlers.NewCommand("stats", b.statsCmd))
	// Свободный текст питает многошаговую регистрацию.
	dispatcher.AddHandler(handlers.NewMessage(message.Text, b.onText))

	err := b.updater.StartPolling(b.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 10 * time.Second,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "start polling")
	}

	logger.Info("admin bot started", zap.String("username", b.api.User.Username))
	b.updater.Idle()
	return nil
}

// Stop останавливает polling и обрывает незавершённые регистрации.
func (b *Bot) Stop() {
	b.mu.Lock()
	for id, flow := range b.pending {
		flow.cancel()
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if b.updater != nil {
		logger.Info("stopping admin bot")
		_ = b.updater.Stop()
	}
}

// reply отвечает оператору простым текстом.
func (b *Bot) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.out.SendMessage(chatID, text, nil); err != nil {
		logger.Warn("send reply failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

// reportError логирует внутренний сбой и возвращает оператору нейтральный ответ.
func (b *Bot) reportError(chatID int64, command string, err error) {
	logger.Error("admin command failed",
		zap.String("command", command),
		zap.Int64("operator", chatID),
		zap.Error(err))
	b.reply(chatID, "Something went wrong. Please try again.")
}

// operators читает актуальный документ операторов.
func (b *Bot) operators(chatID int64) (store.Operators, bool) {
	ops, err := b.st.LoadOperators()
	if err != nil {
		b.reportError(chatID, "load operators", err)
		return store.Operators{}, false
	}
	return ops, true
}

// requireOperator отсекает посторонних.
func (b *Bot) requireOperator(ctx *ext.Context) bool {
	chatID := ctx.EffectiveUser.Id
	ops, ok := b.operators(chatID)
	if !ok {
		return false
	}
	if !ops.IsOperator(chatID) {
		b.reply(chatID, "You are not authorized to use this bot.")
		return false
	}
	return true
}

// requirePrimary отсекает всех, кроме главного оператора.
func (b *Bot) requirePrimary(ctx *ext.Context) bool {
	chatID := ctx.EffectiveUser.Id
	ops, ok := b.operators(chatID)
	if !ok {
		return false
	}
	if !ops.IsPrimary(chatID) {
		b.reply(chatID, "Only the primary operator can do that.")
		return false
	}
	return true
}

const helpText = `Forwarding engine admin bot.

Accounts:
  /accounts — list accounts
  /add — enrol a new account
  /cancel — cancel the current enrolment
  /toggle <id> — start/stop forwarding
  /delay <id> <value> — e.g. "45s", "2m 30s", "1h"
  /mode <id> <1|2|3> — 1 forward, 2 silent, 3 copy
  /expiry <id> <unlimited|+1m|+3m|+6m|+1y|YYYY-MM-DD-HH:MM:SS>
  /delaccount <id> — remove account and its session

Targets:
  /targets <id> — list targets
  /addtargets <id> <url> [url ...]
  /deltargets <id> <n> [n ...] — 1-based indices

Operators (primary only):
  /admins, /addadmin <id>, /removeadmin <id>, /setlimit <n>

Other:
  /stats [YYYY-MM-DD] — daily summary`

// help выводит список команд.
func (b *Bot) help(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	b.reply(ctx.EffectiveUser.Id, helpText)
	return nil
}
