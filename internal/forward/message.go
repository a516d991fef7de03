package forward

import (
	"strings"
	"unicode/utf8"

	"github.com/gotd/td/tg"
)

// MessageType — тип исходного сообщения для статистики и логов.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypePhoto     MessageType = "photo"
	TypeVideo     MessageType = "video"
	TypeDocument  MessageType = "document"
	TypeAudio     MessageType = "audio"
	TypeSticker   MessageType = "sticker"
	TypeVoice     MessageType = "voice"
	TypeVideoNote MessageType = "video_note"
	TypePoll      MessageType = "poll"
	TypeLocation  MessageType = "location"
	TypeContact   MessageType = "contact"
	TypeUnknown   MessageType = "unknown"
)

// DetectType определяет тип сообщения по медиа-вложению. Документы
// уточняются по атрибутам: стикер, кружок, голосовое.
func DetectType(msg *tg.Message) MessageType {
	if msg == nil {
		return TypeUnknown
	}

	switch media := msg.Media.(type) {
	case nil, *tg.MessageMediaEmpty:
		if msg.Message != "" {
			return TypeText
		}
		return TypeUnknown
	case *tg.MessageMediaWebPage:
		return TypeText
	case *tg.MessageMediaPhoto:
		return TypePhoto
	case *tg.MessageMediaDocument:
		return documentType(media)
	case *tg.MessageMediaPoll:
		return TypePoll
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return TypeLocation
	case *tg.MessageMediaContact:
		return TypeContact
	default:
		return TypeUnknown
	}
}

// documentType уточняет вид документа по его атрибутам.
func documentType(media *tg.MessageMediaDocument) MessageType {
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return TypeDocument
	}

	kind := TypeDocument
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return TypeSticker
		case *tg.DocumentAttributeVideo:
			if a.RoundMessage {
				return TypeVideoNote
			}
			kind = TypeVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return TypeVoice
			}
			kind = TypeAudio
		}
	}
	return kind
}

// previewLimit — предел длины превью в рунах.
const previewLimit = 60

// Preview строит короткое однострочное превью сообщения для логов: текст
// обрезается по рунам, медиа без текста даёт плейсхолдер вида "[photo]".
func Preview(msg *tg.Message) string {
	if msg == nil {
		return ""
	}

	text := strings.Join(strings.Fields(msg.Message), " ")
	if text == "" {
		return "[" + string(DetectType(msg)) + "]"
	}
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}

	runes := []rune(text)
	return string(runes[:previewLimit]) + "…"
}
