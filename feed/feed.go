// Package feed contains the feed-synchronization engine: the event reactors
// that turn forum activity into derived notifications, the startup backfill
// that rebuilds the mapping before any handler runs, and the reconciler that
// heals drift between the mapping store and the remote channels.
//
// Two reactor variants share one core: ThreadFeed mirrors new forum threads,
// MessageFeed mirrors role-triggered messages inside forum threads. Both keep
// the invariant that a source entity has at most one derived notification and
// that the mapping row is only written after (or together with) the remote
// operation it describes.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
)

// MappingStore is the slice of the store the reactors and reconciler use.
type MappingStore interface {
	GetMapping(ctx context.Context, kind store.Kind, sourceID string) (*store.Mapping, error)
	UpsertMapping(ctx context.Context, kind store.Kind, m store.Mapping) error
	DeleteMapping(ctx context.Context, kind store.Kind, sourceID string) error
	ListMappings(ctx context.Context, kind store.Kind) ([]store.Mapping, error)
	RefreshNotificationEdit(ctx context.Context, kind store.Kind, notificationID string, editedAt time.Time) error
}

// Gateway is the chat surface the engine needs.
type Gateway interface {
	gateway.Messenger
	gateway.ThreadLister
}

type core struct {
	store     MappingStore
	gw        Gateway
	cfg       config.FeedSettings
	kind      store.Kind
	staleness time.Duration
	histLimit int
	selfID    string
	ready     *gateway.Latch
	now       func() time.Time
}

func newCore(st MappingStore, gw Gateway, cfg config.FeedSettings, kind store.Kind, staleness time.Duration, histLimit int, selfID string, ready *gateway.Latch) core {
	return core{
		store:     st,
		gw:        gw,
		cfg:       cfg,
		kind:      kind,
		staleness: staleness,
		histLimit: histLimit,
		selfID:    selfID,
		ready:     ready,
		now:       time.Now,
	}
}

// skip reports whether an event should be ignored: the bot's own activity, or
// anything arriving before the startup backfill has completed.
func (c *core) skip(authorID string) bool {
	if c.ready != nil && !c.ready.Ready() {
		return true
	}
	return authorID != "" && authorID == c.selfID
}

// tolerateNotFound maps a remote not-found to success: the store's view wins
// and the absence of the remote message is the desired end state anyway.
func tolerateNotFound(err error) error {
	if err == nil || gateway.IsNotFound(err) {
		return nil
	}
	return err
}

// Predicate is the two-clause trigger condition on role mentions: either the
// message mentions exactly the trigger role, or its mentions are a superset
// of {trigger, mention}. Both clauses are deliberate; neither subsumes the
// other.
type Predicate struct {
	TriggerRoleID string
	MentionRoleID string
}

// Match evaluates the predicate against a message's raw role mentions.
func (p Predicate) Match(roleMentions []string) bool {
	if p.TriggerRoleID == "" {
		return false
	}
	if len(roleMentions) == 1 && roleMentions[0] == p.TriggerRoleID {
		return true
	}
	if p.MentionRoleID == "" {
		return false
	}
	var haveTrigger, haveMention bool
	for _, r := range roleMentions {
		switch r {
		case p.TriggerRoleID:
			haveTrigger = true
		case p.MentionRoleID:
			haveMention = true
		}
	}
	return haveTrigger && haveMention
}

// sameRoles compares two role-mention sets ignoring order.
func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, r := range a {
		set[r]++
	}
	for _, r := range b {
		if set[r] == 0 {
			return false
		}
		set[r]--
	}
	return true
}

// pinnedOnlyChange reports whether an edit differs from its predecessor in
// pinned state alone. Such edits never trigger an action.
func pinnedOnlyChange(before *gateway.Message, after gateway.Message) bool {
	if before == nil {
		return false
	}
	return before.Pinned != after.Pinned &&
		strings.TrimSpace(before.Content) == strings.TrimSpace(after.Content) &&
		sameRoles(before.RoleMentions, after.RoleMentions)
}

func messageMapping(m gateway.Message) store.Mapping {
	return store.Mapping{
		SourceID:        m.ID,
		Name:            m.ChannelName,
		ParentID:        m.ChannelID,
		ParentName:      m.ChannelName,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorAvatarURL: m.AuthorAvatarURL,
		JumpURL:         m.JumpURL,
		CreatedAt:       m.CreatedAt,
		EditedAt:        m.EditedAt,
	}
}

func threadMapping(t gateway.Thread) store.Mapping {
	return store.Mapping{
		SourceID:        t.ID,
		Name:            t.Name,
		ParentID:        t.ParentID,
		ParentName:      t.ParentName,
		AuthorID:        t.OwnerID,
		AuthorName:      t.OwnerName,
		AuthorAvatarURL: t.OwnerAvatarURL,
		JumpURL:         t.JumpURL,
		MemberCount:     t.MemberCount,
		MessageCount:    t.MessageCount,
		Locked:          t.Locked,
		Archived:        t.Archived,
		CreatedAt:       t.CreatedAt,
	}
}
