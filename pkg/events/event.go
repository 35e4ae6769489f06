// Package events turns raw Bot API updates into relay events.
package events

import "time"

type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
	ChatUnknown    ChatKind = "unknown"
)

// IsGroup reports whether messages of this kind can be a relay source.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatSupergroup
}

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentDocument ContentKind = "document"
	ContentAudio    ContentKind = "audio"
	ContentVoice    ContentKind = "voice"
	ContentSticker  ContentKind = "sticker"
	ContentOther    ContentKind = "other"
)

// Event is a normalized inbound message. It lives only for the duration of
// one pipeline pass.
type Event struct {
	EventID        int64
	ChatID         string
	ChatKind       ChatKind
	ChatTitle      string
	MessageID      int
	SenderID       int64
	SenderName     string
	ContentKind    ContentKind
	IsAnimation    bool
	IsServiceEvent bool
	IsCommand      bool
	Text           string
	Caption        string
	ReceivedAt     time.Time
}

// AcceptsCaption reports whether a copy of the message can carry a caption.
// Animations are relayed as ContentOther but still take one.
func (e Event) AcceptsCaption() bool {
	switch e.ContentKind {
	case ContentPhoto, ContentVideo, ContentDocument, ContentAudio, ContentVoice:
		return true
	case ContentOther:
		return e.IsAnimation
	}
	return false
}

// Command splits a command event's text into the command name, without the
// leading slash or any @botname suffix, and its arguments.
func (e Event) Command() (string, []string) {
	if !e.IsCommand {
		return "", nil
	}
	return ParseCommand(e.Text)
}
