package forward

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-forwarder/internal/store"
	"telegram-forwarder/internal/urlparse"
)

// ErrEmptySaved возвращается, когда в «Избранном» аккаунта нет сообщений.
var ErrEmptySaved = errors.New("saved messages are empty")

// sender — подмножество RPC-клиента gotd, нужное для пересылки. *tg.Client
// реализует интерфейс целиком; в тестах подставляется фейк.
type sender interface {
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesSendMedia(ctx context.Context, request *tg.MessagesSendMediaRequest) (tg.UpdatesClass, error)
}

// Result — исход одной доставки в одну цель.
type Result struct {
	Success    bool
	Type       MessageType
	Kind       ErrorKind     // вид ошибки из таксономии, ErrNone при успехе
	RetryAfter time.Duration // серверная пауза для flood_wait/slow_mode
	FellBack   bool          // топик недоступен, ушло в основной чат
	Elapsed    time.Duration
	Err        error
}

// Forwarder выполняет одиночные доставки исходного сообщения в цель. Режим
// определяет способ: пересылка с атрибуцией, тихая пересылка или копия без
// заголовка «Forwarded from».
type Forwarder struct {
	api sender
}

// NewForwarder создаёт Forwarder поверх RPC-клиента.
func NewForwarder(client sender) *Forwarder {
	return &Forwarder{api: client}
}

// FetchLatestSaved возвращает последнее сообщение «Избранного». Пустая
// история — ErrEmptySaved.
func (f *Forwarder) FetchLatestSaved(ctx context.Context) (*tg.Message, error) {
	history, err := f.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerSelf{},
		Limit: 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get saved messages history")
	}

	var list []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		list = h.Messages
	case *tg.MessagesMessagesSlice:
		list = h.Messages
	case *tg.MessagesChannelMessages:
		list = h.Messages
	}
	for _, raw := range list {
		if msg, ok := raw.(*tg.Message); ok {
			return msg, nil
		}
	}
	return nil, ErrEmptySaved
}

// Forward доставляет сообщение в сущность одним из трёх режимов. Если цель —
// топик и топик закрыт/удалён, сообщение повторно отправляется в основной
// чат, что отражается в Result.FellBack.
func (f *Forwarder) Forward(ctx context.Context, msg *tg.Message, ent *urlparse.Entity, mode store.ForwardMode) Result {
	started := time.Now()
	res := Result{Type: DetectType(msg)}

	err := f.send(ctx, msg, ent.Peer, ent.TopicID, mode)
	if err != nil && ent.TopicID > 0 && isTopicFallback(err) {
		res.FellBack = true
		err = f.send(ctx, msg, ent.Peer, 0, mode)
	}

	res.Elapsed = time.Since(started)
	if err != nil {
		res.Err = err
		res.Kind, res.RetryAfter = Classify(err)
		return res
	}
	res.Success = true
	return res
}

// send выполняет одну отправку без повторов и без топик-фолбэка.
func (f *Forwarder) send(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, topicID int, mode store.ForwardMode) error {
	if mode != store.ModeAsCopy {
		return f.forwardNative(ctx, msg, peer, topicID, mode == store.ModeSilent)
	}
	return f.sendCopy(ctx, msg, peer, topicID)
}

// forwardNative — messages.forwardMessages из «Избранного» с сохранением
// атрибуции источника.
func (f *Forwarder) forwardNative(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, topicID int, silent bool) error {
	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: &tg.InputPeerSelf{},
		ID:       []int{msg.ID},
		RandomID: []int64{rand.Int64()},
		ToPeer:   peer,
		Silent:   silent,
	}
	if topicID > 0 {
		req.TopMsgID = topicID
	}
	if _, err := f.api.MessagesForwardMessages(ctx, req); err != nil {
		return errors.Wrap(err, "forward messages")
	}
	return nil
}

// sendCopy отправляет содержимое заново, без заголовка «Forwarded from».
// Фото и документы переотправляются по file reference; медиа, которое нельзя
// пересобрать в InputMedia, уходит обычной пересылкой.
func (f *Forwarder) sendCopy(ctx context.Context, msg *tg.Message, peer tg.InputPeerClass, topicID int) error {
	media := copyableMedia(msg)
	if media == nil && msg.Media != nil {
		if _, ok := msg.Media.(*tg.MessageMediaWebPage); !ok {
			return f.forwardNative(ctx, msg, peer, topicID, false)
		}
	}

	var replyTo tg.InputReplyToClass
	if topicID > 0 {
		replyTo = &tg.InputReplyToMessage{ReplyToMsgID: topicID}
	}

	if media == nil {
		req := &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  msg.Message,
			RandomID: rand.Int64(),
			ReplyTo:  replyTo,
			Entities: msg.Entities,
		}
		if _, err := f.api.MessagesSendMessage(ctx, req); err != nil {
			return errors.Wrap(err, "send message copy")
		}
		return nil
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  msg.Message,
		RandomID: rand.Int64(),
		ReplyTo:  replyTo,
		Entities: msg.Entities,
	}
	if _, err := f.api.MessagesSendMedia(ctx, req); err != nil {
		return errors.Wrap(err, "send media copy")
	}
	return nil
}

// copyableMedia собирает InputMedia для повторной отправки, если вложение
// этого типа поддаётся копированию.
func copyableMedia(msg *tg.Message) tg.InputMediaClass {
	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
		}}
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &tg.InputMediaDocument{ID: &tg.InputDocument{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}}
	default:
		return nil
	}
}
