// Резолвинг разобранной цели в живую сущность Telegram. Публичные формы
// резолвятся по username, приватные — через channels.getChannels, инвайты —
// через messages.checkChatInvite с присоединением при необходимости.
// Резолвер не кэширует: кэш живёт на стороне воркера, в границах его жизни.

package urlparse

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// EntityKind — тип сущности, в которую разрешилась цель.
type EntityKind string

const (
	EntityChannel    EntityKind = "channel"
	EntitySupergroup EntityKind = "supergroup"
	EntityGroup      EntityKind = "group"
	EntityUser       EntityKind = "user"
	EntityOther      EntityKind = "other"
)

// Entity — разрешённая сущность вместе с готовым InputPeer для RPC-вызовов.
// JoinAttempted/JoinSuccessful описывают присоединение по инвайту в рамках
// этого резолва.
type Entity struct {
	Kind           EntityKind
	ID             int64
	AccessHash     int64
	Title          string
	Username       string
	Participants   int
	TopicID        int
	JoinAttempted  bool
	JoinSuccessful bool
	Peer           tg.InputPeerClass
}

// api — подмножество RPC-клиента gotd, нужное резолверу. *tg.Client реализует
// интерфейс целиком; в тестах подставляется фейк.
type api interface {
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	ChannelsGetChannels(ctx context.Context, id []tg.InputChannelClass) (tg.MessagesChatsClass, error)
	MessagesCheckChatInvite(ctx context.Context, hash string) (tg.ChatInviteClass, error)
	MessagesImportChatInvite(ctx context.Context, hash string) (tg.UpdatesClass, error)
	MessagesGetChats(ctx context.Context, id []int64) (tg.MessagesChatsClass, error)
}

// Resolver превращает Parsed в Entity через RPC-вызовы Telegram.
type Resolver struct {
	api api
}

// NewResolver создаёт резолвер поверх RPC-клиента.
func NewResolver(client api) *Resolver {
	return &Resolver{api: client}
}

// Resolve разрешает разобранную цель в сущность. Для инвайтов может выполнить
// присоединение; TopicID цели переносится в результат.
func (r *Resolver) Resolve(ctx context.Context, p Parsed) (*Entity, error) {
	var (
		ent *Entity
		err error
	)

	switch p.Kind {
	case KindPublicChannel, KindPublicTopic, KindUsername:
		ent, err = r.resolveUsername(ctx, p.Username)
	case KindPrivateChannel, KindPrivateTopic:
		ent, err = r.resolveChatID(ctx, p.ChatID)
	case KindChatID:
		ent, err = r.resolveChatID(ctx, p.ChatID)
	case KindInviteLink:
		ent, err = r.resolveInvite(ctx, p.InviteHash)
	default:
		return nil, errors.Errorf("cannot resolve invalid target %q", p.Raw)
	}
	if err != nil {
		return nil, err
	}

	ent.TopicID = p.TopicID
	return ent, nil
}

// resolveUsername ищет сущность по имени (ведущий @ допускается).
func (r *Resolver) resolveUsername(ctx context.Context, username string) (*Entity, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	resolved, err := r.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: name})
	if err != nil {
		return nil, errors.Wrap(err, "resolve username")
	}

	for _, chat := range resolved.Chats {
		if ent := entityFromChat(chat); ent != nil {
			return ent, nil
		}
	}
	for _, user := range resolved.Users {
		if u, ok := user.(*tg.User); ok {
			return entityFromUser(u), nil
		}
	}
	return nil, errors.Errorf("username %s resolved to nothing usable", name)
}

// resolveChatID ищет сущность по числовому id. Супергруппы/каналы в конвенции
// "-100<id>" идут через channels.getChannels; обычные отрицательные id —
// через messages.getChats.
func (r *Resolver) resolveChatID(ctx context.Context, chatID int64) (*Entity, error) {
	if IsSupergroupID(chatID) {
		return r.resolveChannel(ctx, StripChatPrefix(chatID))
	}
	if chatID < 0 {
		chats, err := r.api.MessagesGetChats(ctx, []int64{-chatID})
		if err != nil {
			return nil, errors.Wrap(err, "get chats")
		}
		if ent := firstEntity(chats); ent != nil {
			return ent, nil
		}
		return nil, errors.Errorf("chat %d not found", chatID)
	}
	// Положительные id нормализуются на разборе; сюда они не доходят,
	// но на всякий случай трактуем их как каналы.
	return r.resolveChannel(ctx, chatID)
}

// resolveChannel запрашивает канал по голому id (без префикса "-100").
// Первая попытка идёт без access_hash; если DC отвечает ошибкой доступа,
// повторяем через messages.getChats — для мигрировавших групп канал может
// быть известен под старым chat id.
func (r *Resolver) resolveChannel(ctx context.Context, channelID int64) (*Entity, error) {
	chats, err := r.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: channelID},
	})
	if err != nil {
		retry, retryErr := r.api.MessagesGetChats(ctx, []int64{channelID})
		if retryErr != nil {
			return nil, errors.Wrap(err, "get channels")
		}
		chats = retry
	}
	if ent := firstEntity(chats); ent != nil {
		return ent, nil
	}
	return nil, errors.Errorf("channel %d not found", channelID)
}

// resolveInvite обрабатывает инвайт-хеш: если мы уже участник — метаданные
// содержат чат; иначе выполняется присоединение. USER_ALREADY_PARTICIPANT от
// импорта — не ошибка: повторный запрос метаданных возвращает чат.
func (r *Resolver) resolveInvite(ctx context.Context, hash string) (*Entity, error) {
	invite, err := r.api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(err, "check chat invite")
	}

	if already, ok := invite.(*tg.ChatInviteAlready); ok {
		if ent := entityFromChat(already.Chat); ent != nil {
			return ent, nil
		}
		return nil, errors.New("invite metadata carries no usable chat")
	}

	// Участия нет — присоединяемся.
	updates, err := r.api.MessagesImportChatInvite(ctx, hash)
	if err != nil {
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			recheck, recheckErr := r.api.MessagesCheckChatInvite(ctx, hash)
			if recheckErr != nil {
				return nil, errors.Wrap(recheckErr, "recheck chat invite")
			}
			if already, ok := recheck.(*tg.ChatInviteAlready); ok {
				if ent := entityFromChat(already.Chat); ent != nil {
					ent.JoinAttempted = true
					return ent, nil
				}
			}
			return nil, errors.New("already participant but invite metadata carries no chat")
		}
		return nil, errors.Wrap(err, "import chat invite")
	}

	if ent := entityFromUpdates(updates); ent != nil {
		ent.JoinAttempted = true
		ent.JoinSuccessful = true
		return ent, nil
	}
	return nil, errors.New("join succeeded but no chat in updates")
}

// entityFromChat извлекает Entity из tg.ChatClass.
func entityFromChat(chat tg.ChatClass) *Entity {
	switch c := chat.(type) {
	case *tg.Channel:
		kind := EntityChannel
		if c.Megagroup {
			kind = EntitySupergroup
		}
		return &Entity{
			Kind:         kind,
			ID:           c.ID,
			AccessHash:   c.AccessHash,
			Title:        c.Title,
			Username:     c.Username,
			Participants: c.ParticipantsCount,
			Peer:         &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash},
		}
	case *tg.Chat:
		return &Entity{
			Kind:         EntityGroup,
			ID:           c.ID,
			Title:        c.Title,
			Participants: c.ParticipantsCount,
			Peer:         &tg.InputPeerChat{ChatID: c.ID},
		}
	default:
		return nil
	}
}

// entityFromUser извлекает Entity из пользователя.
func entityFromUser(u *tg.User) *Entity {
	title := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return &Entity{
		Kind:       EntityUser,
		ID:         u.ID,
		AccessHash: u.AccessHash,
		Title:      title,
		Username:   u.Username,
		Peer:       &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
	}
}

// firstEntity возвращает первую пригодную сущность из ответа getChannels/getChats.
func firstEntity(chats tg.MessagesChatsClass) *Entity {
	switch c := chats.(type) {
	case *tg.MessagesChats:
		for _, chat := range c.Chats {
			if ent := entityFromChat(chat); ent != nil {
				return ent
			}
		}
	case *tg.MessagesChatsSlice:
		for _, chat := range c.Chats {
			if ent := entityFromChat(chat); ent != nil {
				return ent
			}
		}
	}
	return nil
}

// entityFromUpdates достаёт присоединённый чат из ответа importChatInvite.
func entityFromUpdates(updates tg.UpdatesClass) *Entity {
	switch u := updates.(type) {
	case *tg.Updates:
		for _, chat := range u.Chats {
			if ent := entityFromChat(chat); ent != nil {
				return ent
			}
		}
	case *tg.UpdatesCombined:
		for _, chat := range u.Chats {
			if ent := entityFromChat(chat); ent != nil {
				return ent
			}
		}
	}
	return nil
}
