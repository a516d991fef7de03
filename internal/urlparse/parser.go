// Package urlparse — разбор целевых строк и резолвинг их в живые сущности
// Telegram. Строка цели может быть ссылкой t.me (публичной, приватной,
// топиком, инвайтом), @username, голым username или числовым chat id.
// Разбор детерминирован: шаблоны пробуются в фиксированном порядке приоритета,
// первый совпавший выигрывает.
package urlparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind — распознанный вид цели.
type Kind int

const (
	KindInvalid Kind = iota
	KindPublicChannel
	KindPublicTopic
	KindPrivateChannel
	KindPrivateTopic
	KindUsername
	KindChatID
	KindInviteLink
)

// String возвращает имя вида для логов.
func (k Kind) String() string {
	switch k {
	case KindPublicChannel:
		return "public_channel"
	case KindPublicTopic:
		return "public_topic"
	case KindPrivateChannel:
		return "private_channel"
	case KindPrivateTopic:
		return "private_topic"
	case KindUsername:
		return "username"
	case KindChatID:
		return "chat_id"
	case KindInviteLink:
		return "invite_link"
	default:
		return "invalid"
	}
}

// Parsed — результат разбора целевой строки. Заполненность полей зависит от
// вида: Username для публичных форм, ChatID для приватных и числовых,
// TopicID для топиков, InviteHash для инвайтов.
type Parsed struct {
	Kind       Kind
	Raw        string
	Username   string
	ChatID     int64
	TopicID    int
	InviteHash string
}

// IsValid сообщает, удалось ли распознать строку.
func (p Parsed) IsValid() bool { return p.Kind != KindInvalid }

// RequiresJoin — для инвайт-ссылок перед пересылкой нужен вход в чат.
func (p Parsed) RequiresJoin() bool { return p.Kind == KindInviteLink }

// HasTopic сообщает, адресует ли цель топик форума.
func (p Parsed) HasTopic() bool { return p.TopicID > 0 }

// Шаблоны целевых строк в порядке приоритета. Голый t.me/<имя> — всегда
// username-форма; инвайтом считаются только "+<hash>" и "joinchat/<hash>".
var (
	rePrivateTopic   = regexp.MustCompile(`^https?://t\.me/c/(\d+)/(\d+)$`)
	rePrivateChannel = regexp.MustCompile(`^https?://t\.me/c/(\d+)$`)
	reJoinchat       = regexp.MustCompile(`^https?://t\.me/joinchat/([A-Za-z0-9_-]+)$`)
	reInvitePlus     = regexp.MustCompile(`^https?://t\.me/\+([A-Za-z0-9_-]+)$`)
	rePublicTopic    = regexp.MustCompile(`^https?://t\.me/([A-Za-z][A-Za-z0-9_]{3,31})/(\d+)$`)
	rePublicChannel  = regexp.MustCompile(`^https?://t\.me/([A-Za-z][A-Za-z0-9_]{3,31})$`)
	reAtUsername     = regexp.MustCompile(`^@([A-Za-z0-9_]+)$`)
	reChatID         = regexp.MustCompile(`^-?\d+$`)
)

// Parse классифицирует целевую строку. Нераспознанные строки дают
// Parsed{Kind: KindInvalid} с сохранённым исходным значением.
func Parse(raw string) Parsed {
	v := strings.TrimSpace(raw)
	p := Parsed{Kind: KindInvalid, Raw: v}
	if v == "" {
		return p
	}

	if m := rePrivateTopic.FindStringSubmatch(v); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		topic, _ := strconv.Atoi(m[2])
		if topic <= 0 {
			return p
		}
		p.Kind = KindPrivateTopic
		p.ChatID = NormalizeChatID(id)
		p.TopicID = topic
		return p
	}

	if m := rePrivateChannel.FindStringSubmatch(v); m != nil {
		id, _ := strconv.ParseInt(m[1], 10, 64)
		p.Kind = KindPrivateChannel
		p.ChatID = NormalizeChatID(id)
		return p
	}

	if m := reJoinchat.FindStringSubmatch(v); m != nil {
		p.Kind = KindInviteLink
		p.InviteHash = m[1]
		return p
	}

	if m := reInvitePlus.FindStringSubmatch(v); m != nil {
		p.Kind = KindInviteLink
		p.InviteHash = m[1]
		return p
	}

	if m := rePublicTopic.FindStringSubmatch(v); m != nil {
		topic, _ := strconv.Atoi(m[2])
		if topic <= 0 {
			return p
		}
		p.Kind = KindPublicTopic
		p.Username = m[1]
		p.TopicID = topic
		return p
	}

	if m := rePublicChannel.FindStringSubmatch(v); m != nil {
		p.Kind = KindPublicChannel
		p.Username = m[1]
		return p
	}

	if m := reAtUsername.FindStringSubmatch(v); m != nil {
		if !IsValidUsername(m[1]) {
			return p
		}
		p.Kind = KindUsername
		p.Username = m[1]
		return p
	}

	if reChatID.MatchString(v) {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p
		}
		p.Kind = KindChatID
		p.ChatID = NormalizeChatID(id)
		return p
	}

	if IsValidUsername(v) {
		p.Kind = KindUsername
		p.Username = v
		return p
	}

	return p
}

// Format возвращает каноническую строку цели. Для валидного Parsed выполняется
// Parse(Format(p)) == p с точностью до поля Raw.
func Format(p Parsed) string {
	switch p.Kind {
	case KindPrivateTopic:
		return fmt.Sprintf("https://t.me/c/%d/%d", StripChatPrefix(p.ChatID), p.TopicID)
	case KindPrivateChannel:
		return fmt.Sprintf("https://t.me/c/%d", StripChatPrefix(p.ChatID))
	case KindInviteLink:
		return "https://t.me/+" + p.InviteHash
	case KindPublicTopic:
		return fmt.Sprintf("https://t.me/%s/%d", p.Username, p.TopicID)
	case KindPublicChannel:
		return "https://t.me/" + p.Username
	case KindUsername:
		return "@" + p.Username
	case KindChatID:
		return strconv.FormatInt(p.ChatID, 10)
	default:
		return p.Raw
	}
}

// IsValidUsername проверяет грамматику Telegram-username: 5–32 символа,
// первый — буква, последний — буква или цифра, без двойных подчёркиваний.
func IsValidUsername(name string) bool {
	if len(name) < 5 || len(name) > 32 {
		return false
	}
	if !isAlpha(name[0]) {
		return false
	}
	last := name[len(name)-1]
	if !isAlpha(last) && !isDigit(last) {
		return false
	}
	if strings.Contains(name, "__") {
		return false
	}
	for i := range len(name) {
		c := name[i]
		if !isAlpha(c) && !isDigit(c) && c != '_' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// supergroupPrefix — множитель конвенции "-100<id>" для супергрупп/каналов.
const supergroupPrefix = int64(1000000000000)

// NormalizeChatID приводит положительный приватный chat id к форме "-100<id>".
// Отрицательные значения (уже нормализованные супергруппы либо обычные группы)
// возвращаются как есть.
func NormalizeChatID(id int64) int64 {
	if id > 0 {
		return -(supergroupPrefix + id)
	}
	return id
}

// StripChatPrefix — обратная операция: из "-100<id>" достаёт голый id канала.
// Для прочих значений возвращает модуль числа.
func StripChatPrefix(id int64) int64 {
	if id < -supergroupPrefix {
		return -id - supergroupPrefix
	}
	if id < 0 {
		return -id
	}
	return id
}

// IsSupergroupID сообщает, записан ли id в конвенции "-100<id>".
func IsSupergroupID(id int64) bool { return id < -supergroupPrefix }
