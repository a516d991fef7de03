package adminbot

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	gotgbot "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/go-faster/errors"
	tdauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/storage"
	"telegram-forwarder/internal/store"
	tgclient "telegram-forwarder/internal/telegram/client"
)

// Регистрация аккаунта — единственный многошаговый диалог бота. Оператор
// присылает учётные данные, движок поднимает одноразовый MTProto-клиент,
// Telegram отправляет код входа на телефон, оператор пересылает код боту.
// Полученная сессия сохраняется в канонический файл, аккаунт записывается в
// документ выключенным: включение — отдельное решение оператора (/toggle).

// Этапы диалога регистрации.
const (
	stageCredentials = iota // ждём "api_id api_hash phone"
	stageCode               // ждём код входа из Telegram
)

const (
	enrolTimeout    = 10 * time.Minute
	maxCodeAttempts = 3
	defaultTermDays = 30
)

// enrolment — состояние одной незавершённой регистрации.
type enrolment struct {
	stage   int
	apiID   int
	apiHash string
	phone   string
	codeCh  chan string
	ctx     context.Context
	cancel  context.CancelFunc
}

// addAccount возвращает обработчик /add, замкнутый на контекст жизни бота:
// фоновая авторизация обрывается вместе с ним.
func (b *Bot) addAccount(parent context.Context) handlers.Response {
	return func(_ *gotgbot.Bot, ctx *ext.Context) error {
		if !b.requireOperator(ctx) {
			return nil
		}
		op := ctx.EffectiveUser.Id

		b.mu.Lock()
		if _, busy := b.pending[op]; busy {
			b.mu.Unlock()
			b.reply(op, "Enrolment already in progress. Finish it or /cancel first.")
			return nil
		}
		flowCtx, cancel := context.WithTimeout(parent, enrolTimeout)
		flow := &enrolment{
			stage:  stageCredentials,
			codeCh: make(chan string, 1),
			ctx:    flowCtx,
			cancel: cancel,
		}
		b.pending[op] = flow
		b.mu.Unlock()

		// Сторож таймаута: просроченный диалог убирается из карты сам.
		go func() {
			<-flowCtx.Done()
			b.dropFlow(op, flow)
		}()

		b.reply(op, "Send the account credentials as:\n"+
			"api_id api_hash phone\n\n"+
			"Example: 25910392 9e32cad6393a8598cc3a693ddfc2d66e +919098769260\n"+
			"Use /cancel to abort.")
		return nil
	}
}

// cancelFlow обрывает текущую регистрацию оператора.
func (b *Bot) cancelFlow(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	op := ctx.EffectiveUser.Id

	b.mu.Lock()
	flow, ok := b.pending[op]
	if ok {
		delete(b.pending, op)
	}
	b.mu.Unlock()

	if !ok {
		b.reply(op, "Nothing to cancel.")
		return nil
	}
	flow.cancel()
	b.reply(op, "Enrolment cancelled.")
	return nil
}

// onText питает диалог регистрации свободным текстом. Сообщения вне диалога
// игнорируются. Обработчики бегут на пуле горутин диспетчера, поэтому поля
// flow читаются и меняются только под b.mu; ответы уходят уже без лока.
func (b *Bot) onText(_ *gotgbot.Bot, ctx *ext.Context) error {
	op := ctx.EffectiveUser.Id
	text := strings.TrimSpace(ctx.EffectiveMessage.Text)

	b.mu.Lock()
	flow, ok := b.pending[op]
	if !ok {
		b.mu.Unlock()
		return nil
	}

	switch flow.stage {
	case stageCredentials:
		apiID, apiHash, phone, err := parseCredentials(text)
		if err != nil {
			b.mu.Unlock()
			b.reply(op, err.Error())
			return nil
		}
		flow.apiID = apiID
		flow.apiHash = apiHash
		flow.phone = phone
		flow.stage = stageCode

		go b.runEnrolment(op, flow)
		b.mu.Unlock()
		b.reply(op, "Requesting a login code for "+phone+"…")
	case stageCode:
		code := strings.ReplaceAll(text, "-", "")
		var busy bool
		select {
		case flow.codeCh <- code:
		default:
			busy = true
		}
		b.mu.Unlock()
		if busy {
			b.reply(op, "Hold on, the previous code is still being checked.")
		}
	default:
		b.mu.Unlock()
	}
	return nil
}

// parseCredentials разбирает "api_id api_hash phone" (пробелы, | или три
// строки как разделители).
func parseCredentials(text string) (int, string, string, error) {
	cleaned := strings.NewReplacer("|", " ", "\n", " ").Replace(text)
	parts := strings.Fields(cleaned)
	if len(parts) != 3 {
		return 0, "", "", errors.New("Expected exactly three values: api_id api_hash phone.")
	}

	apiID, err := strconv.Atoi(parts[0])
	if err != nil || apiID <= 0 {
		return 0, "", "", errors.New("api_id must be a positive number.")
	}
	apiHash := parts[1]
	if len(apiHash) != 32 {
		return 0, "", "", errors.New("api_hash must be 32 characters long.")
	}
	phone := parts[2]
	if !strings.HasPrefix(phone, "+") || len(phone) < 8 {
		return 0, "", "", errors.New("Phone must be in international format, e.g. +919098769260.")
	}
	return apiID, apiHash, phone, nil
}

// runEnrolment ведёт фоновую авторизацию: одноразовый клиент gotd, запрос
// кода, до трёх попыток ввода, перенос сессии в канонический файл и запись
// аккаунта в документ.
func (b *Bot) runEnrolment(op int64, flow *enrolment) {
	defer b.dropFlow(op, flow)

	if err := storage.EnsureDir(b.env.SessionsDir); err != nil {
		b.reportError(op, "/add", err)
		return
	}

	tmpSession := b.env.SessionFile(flow.phone) + ".enrol"
	client, waiter := tgclient.New(tgclient.Options{
		APIID:       flow.apiID,
		APIHash:     flow.apiHash,
		SessionFile: tmpSession,
		ThrottleRPS: b.env.ThrottleRPS,
		TestDC:      b.env.TestDC,
	})

	err := waiter.Run(flow.ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			return b.signIn(ctx, client, op, flow)
		})
	})
	if err != nil {
		_ = os.Remove(tmpSession)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			b.reply(op, "Enrolment aborted.")
		case errors.Is(err, tdauth.ErrPasswordAuthNeeded):
			b.reply(op, "This account has 2FA (cloud password) enabled. "+
				"Disable it and try /add again.")
		default:
			logger.Error("enrolment failed",
				zap.String("phone", flow.phone), zap.Error(err))
			b.reply(op, "Enrolment failed: "+err.Error())
		}
		return
	}

	if err := b.persistAccount(flow, tmpSession); err != nil {
		_ = os.Remove(tmpSession)
		b.reportError(op, "/add", err)
		return
	}

	id := strconv.Itoa(flow.apiID)
	logger.Success("account enrolled",
		zap.String("account", id), zap.String("phone", flow.phone))
	b.reply(op, "Account "+id+" enrolled. It is stopped: use /toggle "+id+
		" to start forwarding, /addtargets "+id+" to add targets.")
}

// signIn выполняет протокол входа: SendCode, затем коды от оператора,
// не более maxCodeAttempts неверных.
func (b *Bot) signIn(ctx context.Context, client authorizer, op int64, flow *enrolment) error {
	sent, err := client.Auth().SendCode(ctx, flow.phone, tdauth.SendCodeOptions{})
	if err != nil {
		return errors.Wrap(err, "send code")
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return errors.Errorf("unexpected send code response %T", sent)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		var input string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case input = <-flow.codeCh:
		}

		_, err = client.Auth().SignIn(ctx, flow.phone, input, code.PhoneCodeHash)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, tdauth.ErrPasswordAuthNeeded):
			return err
		case tgerr.Is(err, "PHONE_CODE_INVALID") && attempt < maxCodeAttempts:
			b.reply(op, "Invalid code, try again.")
		default:
			return errors.Wrap(err, "sign in")
		}
	}
	return errors.New("too many invalid codes")
}

// authorizer — срез клиента gotd, нужный протоколу входа.
type authorizer interface {
	Auth() *tdauth.Client
}

// persistAccount переносит сессию в канонический файл и записывает аккаунт
// с умолчаниями. Существующие цели повторной регистрации не затираются.
func (b *Bot) persistAccount(flow *enrolment, tmpSession string) error {
	sessionFile := b.env.SessionFile(flow.phone)
	if err := os.Rename(tmpSession, sessionFile); err != nil {
		return errors.Wrap(err, "move session file")
	}

	now := time.Now()
	id := strconv.Itoa(flow.apiID)
	acc := store.Account{
		ID:          id,
		APIID:       flow.apiID,
		APIHash:     flow.apiHash,
		Phone:       flow.phone,
		SessionFile: sessionFile,
		Start:       false,
		AutoStart:   true,
		Delay:       time.Minute,
		Mode:        store.ModePreserveOriginal,
		ModeSet:     true,
		Expiry:      now.AddDate(0, 0, defaultTermDays),
	}
	if err := b.st.UpsertAccount(acc); err != nil {
		return errors.Wrap(err, "save account")
	}

	targets, err := b.st.LoadTargets()
	if err != nil {
		return errors.Wrap(err, "load targets")
	}
	if _, exists := targets[id]; !exists {
		if err := b.st.SetTargets(id, []store.Target{}); err != nil {
			return errors.Wrap(err, "create empty target list")
		}
	}
	return nil
}

// dropFlow убирает диалог из карты, если он всё ещё текущий.
func (b *Bot) dropFlow(op int64, flow *enrolment) {
	flow.cancel()
	b.mu.Lock()
	if b.pending[op] == flow {
		delete(b.pending, op)
	}
	b.mu.Unlock()
}
