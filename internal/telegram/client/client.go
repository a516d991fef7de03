// Package client собирает MTProto-клиента gotd для одного аккаунта: файловая
// сессия, middleware против FLOOD_WAIT и лимитер исходящих RPC, паспорт
// устройства. Каждый воркер и каждая сессия авторизации получают собственный
// клиент — общих соединений между аккаунтами нет.
package client

import (
	"golang.org/x/time/rate"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"

	"telegram-forwarder/internal/telegram/session"
)

// Options — параметры сборки клиента одного аккаунта.
type Options struct {
	APIID       int
	APIHash     string
	SessionFile string
	ThrottleRPS int  // лимит исходящих RPC в секунду
	TestDC      bool // использовать тестовый стенд Telegram
}

// appVersion попадает в паспорт устройства, который видит Telegram.
const appVersion = "1.2.0"

// New создаёт клиента gotd и его floodwait-ожидатель. Ожидатель запускается
// вызывающей стороной рядом с client.Run — у них общий жизненный цикл.
func New(opts Options) (*telegram.Client, *floodwait.Waiter) {
	waiter := floodwait.NewWaiter()

	tgOpts := telegram.Options{
		SessionStorage: &session.FileStorage{Path: opts.SessionFile},
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(
				rate.Limit(opts.ThrottleRPS),
				opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    appVersion,
		},
	}
	if opts.TestDC {
		tgOpts.DCList = dcs.Test()
	}

	return telegram.NewClient(opts.APIID, opts.APIHash, tgOpts), waiter
}
