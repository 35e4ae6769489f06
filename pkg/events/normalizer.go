package events

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/tinyland-inc/picorelay/pkg/logger"
)

const DefaultDedupCapacity = 4096

type Status int

const (
	StatusEvent Status = iota
	StatusDuplicate
	StatusUnrecognized
)

func (s Status) String() string {
	switch s {
	case StatusEvent:
		return "event"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "unrecognized"
	}
}

type Result struct {
	Status Status
	Event  Event
	// Reason explains an unrecognized update.
	Reason string
}

// Normalizer converts updates into events and drops redeliveries of an
// update id it has seen recently.
type Normalizer struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	seen     map[int64]*list.Element
	now      func() time.Time
}

func NewNormalizer(capacity int) *Normalizer {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Normalizer{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[int64]*list.Element, capacity),
		now:      time.Now,
	}
}

// Normalize is safe for concurrent use.
func (n *Normalizer) Normalize(update telego.Update) Result {
	id := int64(update.UpdateID)
	if n.markSeen(id) {
		return Result{Status: StatusDuplicate}
	}

	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		return n.unrecognized(id, "no message payload")
	}
	if msg.Chat.ID == 0 {
		return n.unrecognized(id, "message without chat")
	}

	ev := Event{
		EventID:        id,
		ChatID:         strconv.FormatInt(msg.Chat.ID, 10),
		ChatKind:       chatKind(msg.Chat.Type),
		ChatTitle:      msg.Chat.Title,
		MessageID:      msg.MessageID,
		ContentKind:    contentKind(msg),
		IsAnimation:    msg.Animation != nil,
		IsServiceEvent: isServiceMessage(msg),
		Text:           msg.Text,
		Caption:        msg.Caption,
		ReceivedAt:     n.now(),
	}
	if msg.From != nil {
		ev.SenderID = msg.From.ID
		ev.SenderName = displayName(msg.From)
	}
	ev.IsCommand = !ev.IsServiceEvent && strings.HasPrefix(msg.Text, "/")

	return Result{Status: StatusEvent, Event: ev}
}

// Seen reports how many update ids are currently remembered.
func (n *Normalizer) Seen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}

// markSeen records id and reports whether it was already present. A hit
// moves the id to the most recent position.
func (n *Normalizer) markSeen(id int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if el, ok := n.seen[id]; ok {
		n.order.MoveToFront(el)
		return true
	}
	n.seen[id] = n.order.PushFront(id)
	if n.order.Len() > n.capacity {
		oldest := n.order.Back()
		n.order.Remove(oldest)
		delete(n.seen, oldest.Value.(int64))
	}
	return false
}

func (n *Normalizer) unrecognized(id int64, reason string) Result {
	logger.DebugCF("events", "Unrecognized update", map[string]any{
		"update_id": id,
		"reason":    reason,
	})
	return Result{Status: StatusUnrecognized, Reason: reason}
}

func chatKind(t string) ChatKind {
	switch ChatKind(t) {
	case ChatPrivate, ChatGroup, ChatSupergroup, ChatChannel:
		return ChatKind(t)
	default:
		return ChatUnknown
	}
}

func contentKind(msg *telego.Message) ContentKind {
	switch {
	case len(msg.Photo) > 0:
		return ContentPhoto
	case msg.Video != nil:
		return ContentVideo
	case msg.Animation != nil:
		// Animations also carry a document; they are relayed as "other".
		return ContentOther
	case msg.Document != nil:
		return ContentDocument
	case msg.Audio != nil:
		return ContentAudio
	case msg.Voice != nil:
		return ContentVoice
	case msg.Sticker != nil:
		return ContentSticker
	case msg.Text != "":
		return ContentText
	default:
		return ContentOther
	}
}

func isServiceMessage(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated ||
		msg.ChannelChatCreated ||
		msg.MigrateToChatID != 0 ||
		msg.MigrateFromChatID != 0 ||
		msg.PinnedMessage != nil
}

func displayName(u *telego.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
