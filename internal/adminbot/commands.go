package adminbot

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	gotgbot "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/infra/timeutil"
	"telegram-forwarder/internal/store"
)

// accounts выводит сводку по всем аккаунтам.
func (b *Bot) accounts(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	list, err := b.st.LoadAccounts()
	if err != nil {
		b.reportError(chatID, "/accounts", err)
		return nil
	}
	if len(list) == 0 {
		b.reply(chatID, "No accounts enrolled. Use /add to enrol one.")
		return nil
	}

	targets, err := b.st.LoadTargets()
	if err != nil {
		b.reportError(chatID, "/accounts", err)
		return nil
	}

	ids := make([]string, 0, len(list))
	for id := range list {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		acc := list[id]
		state := "stopped"
		if acc.Start {
			state = "running"
		}
		if acc.IsExpired(time.Now()) {
			state = "expired"
		}
		expiry := "unlimited"
		if !acc.Expiry.IsZero() {
			expiry = timeutil.FormatExpiry(acc.Expiry)
		}
		fmt.Fprintf(&sb, "%s  %s\n  %s | delay %s | mode %s | expiry %s | %d targets\n",
			id, acc.Phone, state,
			timeutil.FormatDelay(acc.Delay), acc.Mode, expiry, len(targets[id]))
	}
	b.reply(chatID, sb.String())
	return nil
}

// mutateAccount применяет правку аккаунта и сам отвечает оператору при
// ошибке, различая несуществующий аккаунт и сбой документа.
func (b *Bot) mutateAccount(chatID int64, command, id string, fn func(*store.Account)) error {
	err := b.st.MutateAccount(id, fn)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAccountNotFound):
		b.reply(chatID, "Account not found: "+id)
	default:
		b.reportError(chatID, command, err)
	}
	return err
}

// accountArg разбирает первый аргумент команды как id аккаунта.
func (b *Bot) accountArg(ctx *ext.Context, usage string) (string, bool) {
	chatID := ctx.EffectiveUser.Id
	args := ctx.Args()
	if len(args) < 2 {
		b.reply(chatID, usage)
		return "", false
	}
	return strings.TrimSpace(args[1]), true
}

// toggle переключает флаг start аккаунта.
func (b *Bot) toggle(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	id, ok := b.accountArg(ctx, "Usage: /toggle <account id>")
	if !ok {
		return nil
	}

	var started bool
	err := b.mutateAccount(chatID, "/toggle", id, func(a *store.Account) {
		a.Start = !a.Start
		started = a.Start
	})
	if err != nil {
		return nil
	}

	if started {
		b.reply(chatID, "Forwarding started for "+id+".")
	} else {
		b.reply(chatID, "Forwarding stopped for "+id+".")
	}
	return nil
}

// setDelay задаёт межцелевую задержку аккаунта. Строка принимает комбинации
// "N h / N m / N s" в любом порядке, голое число означает секунды.
func (b *Bot) setDelay(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 3 {
		b.reply(chatID, `Usage: /delay <account id> <value>, e.g. /delay 25910392 2m 30s`)
		return nil
	}
	id := args[1]
	raw := strings.Join(args[2:], " ")

	delay, err := timeutil.ParseDelayStrict(raw)
	if err != nil {
		b.reply(chatID, "Cannot parse delay: "+raw)
		return nil
	}

	if err := b.mutateAccount(chatID, "/delay", id, func(a *store.Account) { a.Delay = delay }); err != nil {
		return nil
	}
	b.reply(chatID, "Delay for "+id+" set to "+timeutil.FormatDelay(delay)+".")
	return nil
}

// setMode задаёт режим пересылки аккаунта по коду 1|2|3.
func (b *Bot) setMode(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 3 {
		b.reply(chatID, "Usage: /mode <account id> <1|2|3> (1 forward, 2 silent, 3 copy)")
		return nil
	}
	id, code := args[1], strings.TrimSpace(args[2])
	if code != "1" && code != "2" && code != "3" {
		b.reply(chatID, "Unknown mode "+code+", expected 1, 2 or 3.")
		return nil
	}
	mode := store.ParseForwardMode(code)

	err := b.mutateAccount(chatID, "/mode", id, func(a *store.Account) {
		a.Mode = mode
		a.ModeSet = true
	})
	if err != nil {
		return nil
	}
	b.reply(chatID, "Mode for "+id+" set to "+mode.String()+".")
	return nil
}

// expiryFromArg превращает пресет или явную дату в срок действия.
// Нулевое время означает бессрочно.
func expiryFromArg(arg string, now time.Time) (time.Time, error) {
	switch strings.ToLower(arg) {
	case "unlimited":
		return time.Time{}, nil
	case "+1m":
		return now.AddDate(0, 1, 0), nil
	case "+3m":
		return now.AddDate(0, 3, 0), nil
	case "+6m":
		return now.AddDate(0, 6, 0), nil
	case "+1y":
		return now.AddDate(1, 0, 0), nil
	default:
		return timeutil.ParseExpiry(arg)
	}
}

// setExpiry задаёт срок действия аккаунта: пресет или дата в локальном времени.
func (b *Bot) setExpiry(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 3 {
		b.reply(chatID, "Usage: /expiry <account id> <unlimited|+1m|+3m|+6m|+1y|YYYY-MM-DD-HH:MM:SS>")
		return nil
	}
	id, arg := args[1], args[2]

	expiry, err := expiryFromArg(arg, time.Now())
	if err != nil {
		b.reply(chatID, "Cannot parse expiry: "+arg)
		return nil
	}

	if err := b.mutateAccount(chatID, "/expiry", id, func(a *store.Account) { a.Expiry = expiry }); err != nil {
		return nil
	}
	if expiry.IsZero() {
		b.reply(chatID, "Expiry for "+id+" removed (unlimited).")
	} else {
		b.reply(chatID, "Expiry for "+id+" set to "+timeutil.FormatExpiry(expiry)+".")
	}
	return nil
}

// listTargets показывает цели аккаунта с номерами для /deltargets.
func (b *Bot) listTargets(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	id, ok := b.accountArg(ctx, "Usage: /targets <account id>")
	if !ok {
		return nil
	}

	list, err := b.st.TargetsFor(id)
	if err != nil {
		b.reportError(chatID, "/targets", err)
		return nil
	}
	if len(list) == 0 {
		b.reply(chatID, "No targets for "+id+".")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Targets of %s:\n", id)
	for i, t := range list {
		flag := ""
		if !t.Active {
			flag = " (inactive)"
		}
		fmt.Fprintf(&sb, "%d. %s%s\n", i+1, t.URL, flag)
	}
	b.reply(chatID, sb.String())
	return nil
}

// addTargets дописывает цели в конец списка аккаунта.
func (b *Bot) addTargets(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 3 {
		b.reply(chatID, "Usage: /addtargets <account id> <url> [url ...]")
		return nil
	}
	id, urls := args[1], args[2:]

	if _, err := b.st.TargetsFor(id); err != nil {
		b.reportError(chatID, "/addtargets", err)
		return nil
	}
	if err := b.st.AddTargets(id, urls); err != nil {
		b.reportError(chatID, "/addtargets", err)
		return nil
	}
	b.reply(chatID, fmt.Sprintf("Added %d target(s) to %s.", len(urls), id))
	return nil
}

// parseIndices разбирает номера целей из аргументов (нумерация с 1).
func parseIndices(args []string) ([]int, error) {
	indices := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(a), ","))
		if err != nil {
			return nil, fmt.Errorf("not a number: %s", a)
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// deleteTargets удаляет цели по номерам из вывода /targets.
func (b *Bot) deleteTargets(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 3 {
		b.reply(chatID, "Usage: /deltargets <account id> <n> [n ...]")
		return nil
	}
	id := args[1]

	indices, err := parseIndices(args[2:])
	if err != nil {
		b.reply(chatID, err.Error())
		return nil
	}

	removed, err := b.st.DeleteTargetsByIndices(id, indices)
	if err != nil {
		b.reportError(chatID, "/deltargets", err)
		return nil
	}
	b.reply(chatID, fmt.Sprintf("Removed %d target(s) from %s.", removed, id))
	return nil
}

// deleteAccount удаляет аккаунт, его цели и файл сессии.
func (b *Bot) deleteAccount(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	id, ok := b.accountArg(ctx, "Usage: /delaccount <account id>")
	if !ok {
		return nil
	}

	sessionFile, err := b.st.DeleteAccount(id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAccountNotFound):
		b.reply(chatID, "Account not found: "+id)
		return nil
	default:
		b.reportError(chatID, "/delaccount", err)
		return nil
	}
	if sessionFile != "" {
		if rmErr := os.Remove(sessionFile); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("remove session file failed",
				zap.String("account", id), zap.Error(rmErr))
		}
	}
	logger.Info("account deleted", zap.String("account", id), zap.Int64("operator", chatID))
	b.reply(chatID, "Account "+id+" deleted.")
	return nil
}

// statsCmd показывает суточную сводку рассылки.
func (b *Bot) statsCmd(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	if b.recorder == nil {
		b.reply(chatID, "Statistics are not enabled.")
		return nil
	}

	day := time.Now()
	if args := ctx.Args(); len(args) > 1 {
		parsed, err := time.ParseInLocation("2006-01-02", args[1], time.Local)
		if err != nil {
			b.reply(chatID, "Usage: /stats [YYYY-MM-DD]")
			return nil
		}
		day = parsed
	}

	sum, err := b.recorder.Daily(day)
	if err != nil {
		b.reportError(chatID, "/stats", err)
		return nil
	}
	if sum.Sessions == 0 {
		b.reply(chatID, "No activity on "+sum.Day+".")
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d cycles, %d sent, %d failed, %d skipped\n",
		sum.Day, sum.Sessions, sum.Sent, sum.Failed, sum.Skipped)
	if len(sum.Errors) > 0 {
		sb.WriteString("Errors:\n")
		kinds := make([]string, 0, len(sum.Errors))
		for k := range sum.Errors {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(&sb, "  %s: %d\n", k, sum.Errors[k])
		}
	}
	b.reply(chatID, sb.String())
	return nil
}
