package adminbot

import (
	"fmt"
	"strconv"
	"strings"

	gotgbot "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"go.uber.org/zap"

	"telegram-forwarder/internal/infra/logger"
	"telegram-forwarder/internal/store"
)

// listAdmins показывает операторов бота. Доступно любому оператору,
// мутации ниже — только главному.
func (b *Bot) listAdmins(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requireOperator(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	ops, ok := b.operators(chatID)
	if !ok {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Primary: %d\n", ops.Primary)
	fmt.Fprintf(&sb, "Secondary (%d/%d):\n", len(ops.Secondary), ops.AdminLimit)
	if len(ops.Secondary) == 0 {
		sb.WriteString("  none\n")
	}
	for _, id := range ops.Secondary {
		fmt.Fprintf(&sb, "  %d\n", id)
	}
	b.reply(chatID, sb.String())
	return nil
}

// userIDArg разбирает первый аргумент команды как числовой id пользователя.
func (b *Bot) userIDArg(ctx *ext.Context, usage string) (int64, bool) {
	chatID := ctx.EffectiveUser.Id
	args := ctx.Args()
	if len(args) < 2 {
		b.reply(chatID, usage)
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil || id <= 0 {
		b.reply(chatID, "Expected a numeric Telegram user id.")
		return 0, false
	}
	return id, true
}

// addAdmin добавляет второстепенного оператора.
func (b *Bot) addAdmin(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requirePrimary(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	id, ok := b.userIDArg(ctx, "Usage: /addadmin <user id>")
	if !ok {
		return nil
	}

	err := b.st.MutateOperators(func(o *store.Operators) error {
		return o.AddSecondary(id)
	})
	if err != nil {
		b.reply(chatID, err.Error())
		return nil
	}
	logger.Info("operator added", zap.Int64("operator", id), zap.Int64("by", chatID))
	b.reply(chatID, fmt.Sprintf("Operator %d added.", id))
	return nil
}

// removeAdmin убирает второстепенного оператора.
func (b *Bot) removeAdmin(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requirePrimary(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	id, ok := b.userIDArg(ctx, "Usage: /removeadmin <user id>")
	if !ok {
		return nil
	}

	err := b.st.MutateOperators(func(o *store.Operators) error {
		return o.RemoveSecondary(id)
	})
	if err != nil {
		b.reply(chatID, err.Error())
		return nil
	}
	logger.Info("operator removed", zap.Int64("operator", id), zap.Int64("by", chatID))
	b.reply(chatID, fmt.Sprintf("Operator %d removed.", id))
	return nil
}

// setLimit меняет лимит второстепенных операторов.
func (b *Bot) setLimit(_ *gotgbot.Bot, ctx *ext.Context) error {
	if !b.requirePrimary(ctx) {
		return nil
	}
	chatID := ctx.EffectiveUser.Id

	args := ctx.Args()
	if len(args) < 2 {
		b.reply(chatID, "Usage: /setlimit <n>")
		return nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(args[1]))
	if err != nil {
		b.reply(chatID, "Expected a number.")
		return nil
	}

	mErr := b.st.MutateOperators(func(o *store.Operators) error {
		return o.SetAdminLimit(limit)
	})
	if mErr != nil {
		b.reply(chatID, mErr.Error())
		return nil
	}
	b.reply(chatID, fmt.Sprintf("Operator limit set to %d.", limit))
	return nil
}
