package supervisor

import (
	"context"

	tdauth "github.com/gotd/td/telegram/auth"

	"telegram-forwarder/internal/forward"
	"telegram-forwarder/internal/infra/config"
	"telegram-forwarder/internal/stats"
	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/telegram/auth"
	tgclient "telegram-forwarder/internal/telegram/client"
	"telegram-forwarder/internal/urlparse"
	"telegram-forwarder/internal/worker"
)

// launcher запускает воркер аккаунта вместе с его сессией. Канал возвращает
// итог работы воркера; закрытие контекста останавливает сессию.
type launcher interface {
	Launch(ctx context.Context, acc store.Account, cfg worker.Config) (*worker.Worker, <-chan error)
}

// TelegramLauncher — боевой launcher поверх gotd: на каждый аккаунт собирается
// отдельный клиент с файловой сессией, floodwait-ожидателем и лимитером RPC.
type TelegramLauncher struct {
	env      config.EnvConfig
	recorder *stats.Recorder // nil — без статистики
}

// NewTelegramLauncher создаёт launcher для боевого окружения.
func NewTelegramLauncher(env config.EnvConfig, recorder *stats.Recorder) *TelegramLauncher {
	return &TelegramLauncher{env: env, recorder: recorder}
}

// Launch собирает клиента и воркер и запускает их общий жизненный цикл:
// waiter → клиент → воркер. Ошибка воркера закрывает клиента.
func (l *TelegramLauncher) Launch(ctx context.Context, acc store.Account, cfg worker.Config) (*worker.Worker, <-chan error) {
	sessionFile := acc.SessionFile
	if sessionFile == "" {
		sessionFile = l.env.SessionFile(acc.Phone)
	}

	client, waiter := tgclient.New(tgclient.Options{
		APIID:       acc.APIID,
		APIHash:     acc.APIHash,
		SessionFile: sessionFile,
		ThrottleRPS: l.env.ThrottleRPS,
		TestDC:      l.env.TestDC,
	})

	opts := []worker.Option{}
	if l.recorder != nil {
		opts = append(opts, worker.WithRecorder(l.recorder))
	}
	w := worker.New(int64(acc.APIID),
		forward.NewForwarder(client.API()),
		urlparse.NewResolver(client.API()),
		cfg, opts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- waiter.Run(ctx, func(ctx context.Context) error {
			return client.Run(ctx, func(ctx context.Context) error {
				return w.Run(ctx, func(ctx context.Context) error {
					return l.authorize(ctx, client, acc)
				})
			})
		})
	}()
	return w, errCh
}

// authClient — часть клиента gotd, нужная для авторизации.
type authClient interface {
	Auth() *tdauth.Client
}

// authorize проверяет сессию и при необходимости проводит вход. В headless
// режиме интерактивный ввод недоступен: аккаунт без валидной сессии
// пропускается с ошибкой.
func (l *TelegramLauncher) authorize(ctx context.Context, client authClient, acc store.Account) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return err
	}
	if status.Authorized {
		return nil
	}

	flow := tdauth.NewFlow(auth.Authenticator(acc.Phone, l.env.Headless), tdauth.SendCodeOptions{})
	return client.Auth().IfNecessary(ctx, flow)
}
