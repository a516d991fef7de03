// Package forward — действие пересылки: одна попытка доставки исходного
// сообщения в одну цель, классификация ошибок Telegram в закрытую таксономию
// и политика повторов. Пакет не знает про циклы и расписания — это уровень
// воркера; здесь только "одна цель, одна попытка" и решения о повторе.
package forward

import (
	"time"

	"github.com/gotd/td/tgerr"
)

// ErrorKind — закрытая таксономия ошибок пересылки.
type ErrorKind string

const (
	ErrNone               ErrorKind = ""
	ErrFloodWait          ErrorKind = "flood_wait"          // серверная пауза, несёт retry_after
	ErrSlowMode           ErrorKind = "slow_mode"           // кулдаун чата, несёт retry_after
	ErrAccessDenied       ErrorKind = "access_denied"       // приватный чат/бан/нужны права админа
	ErrWriteForbidden     ErrorKind = "write_forbidden"     // запись в цель запрещена
	ErrNotParticipant     ErrorKind = "not_participant"     // требуется вступление
	ErrInvalidTarget      ErrorKind = "invalid_target"      // несуществующий/кривой username
	ErrTopicClosed        ErrorKind = "topic_closed"        // топик закрыт или удалён
	ErrInviteInvalid      ErrorKind = "invite_invalid"      // инвайт истёк или невалиден
	ErrAlreadyParticipant ErrorKind = "already_participant" // информационная, путь метаданных
	ErrUnknown            ErrorKind = "unknown"
)

// Классификация по типу RPC-ошибки. Тип — строка ошибки без числового
// аргумента (FLOOD_WAIT_42 → FLOOD_WAIT).
var kindByType = map[string]ErrorKind{
	"FLOOD_WAIT":                ErrFloodWait,
	"SLOWMODE_WAIT":             ErrSlowMode,
	"CHANNEL_PRIVATE":           ErrAccessDenied,
	"CHAT_ADMIN_REQUIRED":       ErrAccessDenied,
	"USER_BANNED_IN_CHANNEL":    ErrAccessDenied,
	"CHAT_WRITE_FORBIDDEN":      ErrWriteForbidden,
	"CHAT_SEND_PLAIN_FORBIDDEN": ErrWriteForbidden,
	"CHAT_RESTRICTED":           ErrWriteForbidden,
	"USER_NOT_PARTICIPANT":      ErrNotParticipant,
	"USERNAME_NOT_OCCUPIED":     ErrInvalidTarget,
	"USERNAME_INVALID":          ErrInvalidTarget,
	"PEER_ID_INVALID":           ErrInvalidTarget,
	"CHANNEL_INVALID":           ErrInvalidTarget,
	"TOPIC_CLOSED":              ErrTopicClosed,
	"TOPIC_DELETED":             ErrTopicClosed,
	"INVITE_HASH_EXPIRED":       ErrInviteInvalid,
	"INVITE_HASH_INVALID":       ErrInviteInvalid,
	"USER_ALREADY_PARTICIPANT":  ErrAlreadyParticipant,
}

// Classify сводит ошибку Telegram к виду таксономии и обязательной паузе
// (retry_after) для flood_wait/slow_mode. Не-RPC ошибки дают ErrUnknown.
func Classify(err error) (ErrorKind, time.Duration) {
	if err == nil {
		return ErrNone, 0
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return ErrUnknown, 0
	}

	kind, ok := kindByType[rpcErr.Type]
	if !ok {
		return ErrUnknown, 0
	}

	var wait time.Duration
	if kind == ErrFloodWait || kind == ErrSlowMode {
		wait = time.Duration(rpcErr.Argument) * time.Second
	}
	return kind, wait
}

// FailFast сообщает, что повторы внутри текущего цикла бессмысленны.
func (k ErrorKind) FailFast() bool {
	switch k {
	case ErrAccessDenied, ErrInvalidTarget, ErrWriteForbidden, ErrInviteInvalid, ErrAlreadyParticipant:
		return true
	default:
		return false
	}
}

// isTopicFallback — ошибки топика, после которых сообщение уходит в основной
// чат. MSG_ID_INVALID сюда же: Telegram так отвечает на reply в несуществующий
// корень топика.
func isTopicFallback(err error) bool {
	kind, _ := Classify(err)
	if kind == ErrTopicClosed {
		return true
	}
	return tgerr.Is(err, "MSG_ID_INVALID")
}

// RetryPolicy — параметры повторов для одной цели в пределах цикла.
type RetryPolicy struct {
	MaxAttempts      int           // попытки с экспоненциальным бэкофом
	Base             time.Duration // база бэкофа: Base·2^(attempt-1)
	FloodWaitEnabled bool          // уважать ли FLOOD_WAIT повтором
}

// DefaultRetryPolicy — значения по умолчанию: 3 попытки от базы 30 секунд.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 30 * time.Second, FloodWaitEnabled: true}
}

// Decision — решение политики по итогам одной неудачной попытки.
type Decision struct {
	Retry         bool          // повторять ли эту же цель
	Sleep         time.Duration // пауза перед повтором (или перед следующей целью)
	CountsAttempt bool          // учитывать ли попытку в лимите MaxAttempts
}

// Decide принимает вид ошибки, номер попытки (с 1) и серверный retry_after и
// возвращает решение о повторе:
//   - fail-fast ошибки не повторяются;
//   - flood_wait спит retry_after+1 и повторяет, не расходуя лимит попыток;
//   - slow_mode спит retry_after и расходует попытку;
//   - остальное — экспоненциальный бэкоф Base·2^(attempt-1) до MaxAttempts.
func (p RetryPolicy) Decide(kind ErrorKind, attempt int, retryAfter time.Duration) Decision {
	if kind.FailFast() {
		return Decision{}
	}

	switch kind {
	case ErrFloodWait:
		if !p.FloodWaitEnabled {
			// Повтора нет, но серверную паузу всё равно надо выдержать
			// перед следующей целью.
			return Decision{Sleep: retryAfter}
		}
		return Decision{Retry: true, Sleep: retryAfter + time.Second}
	case ErrSlowMode:
		if attempt >= p.MaxAttempts {
			return Decision{Sleep: retryAfter}
		}
		return Decision{Retry: true, Sleep: retryAfter, CountsAttempt: true}
	default:
		if attempt >= p.MaxAttempts {
			return Decision{}
		}
		return Decision{
			Retry:         true,
			Sleep:         p.Base << (attempt - 1),
			CountsAttempt: true,
		}
	}
}
