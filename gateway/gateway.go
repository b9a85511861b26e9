// Package gateway defines the chat-gateway surface the sync engine talks to,
// a discordgo-backed implementation of it, and the run loop that serializes
// every handler onto a single execution context.
package gateway

import (
	"context"
	"sync"
	"time"
)

// Outbound is a renderable message payload: plain content plus an optional
// rich card. ReplyTo, when set, anchors the message as a reply.
type Outbound struct {
	Content string
	Embed   *Embed
	ReplyTo string
}

// Embed is the rich-card part of an Outbound payload. Footer carries the
// machine-readable source-id marker.
type Embed struct {
	Title         string
	Description   string
	Color         int
	ImageURL      string
	AuthorName    string
	AuthorIconURL string
	Footer        string
}

// Message is a snapshot of a remote message as delivered by events or history.
type Message struct {
	ID              string
	ChannelID       string
	ChannelName     string
	ParentID        string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	AttachmentURLs  []string
	RoleMentions    []string
	Pinned          bool
	EmbedFooter     string
	JumpURL         string
	CreatedAt       time.Time
	EditedAt        time.Time
}

// Thread is a snapshot of a forum thread.
type Thread struct {
	ID             string
	Name           string
	ParentID       string
	ParentName     string
	OwnerID        string
	OwnerName      string
	OwnerAvatarURL string
	JumpURL        string
	MemberCount    int
	MessageCount   int
	Locked         bool
	Archived       bool
	CreatedAt      time.Time
}

// Messenger is the outbound message surface of the chat gateway.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, m *Outbound) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, m *Outbound) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	// ChannelMessages returns newest-first history. A limit <= 0 pages
	// through the full channel.
	ChannelMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}

// ThreadLister enumerates forum threads and their messages.
type ThreadLister interface {
	ActiveThreads(ctx context.Context, forumID string) ([]Thread, error)
	ArchivedThreads(ctx context.Context, forumID string) ([]Thread, error)
	ThreadMessages(ctx context.Context, threadID string, limit int) ([]Message, error)
}

// PresenceSetter publishes a "watching ..." presence string.
type PresenceSetter interface {
	SetWatchingStatus(name string) error
}

// Latch is a one-shot readiness signal. Handlers that must wait for startup
// work select on Done; Release is idempotent.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch returns an unreleased latch.
func NewLatch() *Latch { return &Latch{ch: make(chan struct{})} }

// Release opens the latch. Safe to call more than once.
func (l *Latch) Release() { l.once.Do(func() { close(l.ch) }) }

// Done returns a channel closed once the latch is released.
func (l *Latch) Done() <-chan struct{} { return l.ch }

// Ready reports whether the latch has been released, without blocking.
func (l *Latch) Ready() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
