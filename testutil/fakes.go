// Package testutil provides in-memory fakes for the gateway and the mapping
// store, plus the shared Postgres test harness.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
)

// SyncExec runs submitted closures inline. It stands in for the gateway loop
// in tests.
type SyncExec struct{}

func (SyncExec) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// notFoundErr mimics a remote 404.
type notFoundErr struct{ id string }

func (e notFoundErr) Error() string  { return fmt.Sprintf("message %s not found", e.id) }
func (e notFoundErr) NotFound() bool { return true }

// SentMessage records one SendMessage call.
type SentMessage struct {
	ID        string
	ChannelID string
	Out       gateway.Outbound
}

// FakeGateway is an in-memory chat gateway. Sent messages land in per-channel
// histories and can be edited, deleted, and fetched back; thread and message
// listings are scripted by the test.
type FakeGateway struct {
	mu      sync.Mutex
	nextID  int
	Sent    []SentMessage
	Edits   map[string]gateway.Outbound
	Deleted []string

	Messages map[string]gateway.Message // by message id
	Channels map[string][]string        // channel id -> message ids, oldest first
	Threads  map[string][]gateway.Thread
	Archived map[string][]gateway.Thread
	Presence string

	DeleteErr map[string]error // message id -> forced DeleteMessage error
}

// NewFakeGateway returns an empty fake.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Edits:    make(map[string]gateway.Outbound),
		Messages: make(map[string]gateway.Message),
		Channels: make(map[string][]string),
		Threads:  make(map[string][]gateway.Thread),
		Archived: make(map[string][]gateway.Thread),
	}
}

// Seed places a scripted message into a channel history.
func (g *FakeGateway) Seed(m gateway.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Messages[m.ID] = m
	g.Channels[m.ChannelID] = append(g.Channels[m.ChannelID], m.ID)
}

func (g *FakeGateway) SendMessage(_ context.Context, channelID string, out *gateway.Outbound) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := "sent-" + strconv.Itoa(g.nextID)
	g.Sent = append(g.Sent, SentMessage{ID: id, ChannelID: channelID, Out: *out})
	m := gateway.Message{ID: id, ChannelID: channelID, Content: out.Content, CreatedAt: time.Now()}
	if out.Embed != nil {
		m.EmbedFooter = out.Embed.Footer
	}
	g.Messages[id] = m
	g.Channels[channelID] = append(g.Channels[channelID], id)
	return id, nil
}

func (g *FakeGateway) EditMessage(_ context.Context, channelID, messageID string, out *gateway.Outbound) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.Messages[messageID]
	if !ok {
		return notFoundErr{messageID}
	}
	g.Edits[messageID] = *out
	m.Content = out.Content
	m.EditedAt = time.Now()
	if out.Embed != nil {
		m.EmbedFooter = out.Embed.Footer
	}
	g.Messages[messageID] = m
	return nil
}

func (g *FakeGateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.DeleteErr[messageID]; ok {
		return err
	}
	if _, ok := g.Messages[messageID]; !ok {
		return notFoundErr{messageID}
	}
	delete(g.Messages, messageID)
	ids := g.Channels[channelID]
	for i, id := range ids {
		if id == messageID {
			g.Channels[channelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	g.Deleted = append(g.Deleted, messageID)
	return nil
}

func (g *FakeGateway) FetchMessage(_ context.Context, channelID, messageID string) (*gateway.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.Messages[messageID]
	if !ok {
		return nil, notFoundErr{messageID}
	}
	return &m, nil
}

func (g *FakeGateway) ChannelMessages(_ context.Context, channelID string, limit int) ([]gateway.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.Channels[channelID]
	var out []gateway.Message
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, g.Messages[ids[i]])
	}
	return out, nil
}

func (g *FakeGateway) ActiveThreads(_ context.Context, forumID string) ([]gateway.Thread, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Thread(nil), g.Threads[forumID]...), nil
}

func (g *FakeGateway) ArchivedThreads(_ context.Context, forumID string) ([]gateway.Thread, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Thread(nil), g.Archived[forumID]...), nil
}

func (g *FakeGateway) ThreadMessages(ctx context.Context, threadID string, limit int) ([]gateway.Message, error) {
	return g.ChannelMessages(ctx, threadID, limit)
}

func (g *FakeGateway) SetWatchingStatus(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Presence = name
	return nil
}

// MemStore is an in-memory mapping store covering the feed, mirror, and
// treasury slices.
type MemStore struct {
	mu       sync.Mutex
	mappings map[store.Kind]map[string]store.Mapping
	mirrors  map[int64]store.MirrorRow
	events   map[string]store.TreasuryEvent
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		mappings: map[store.Kind]map[string]store.Mapping{
			store.KindThread:  {},
			store.KindMessage: {},
		},
		mirrors: make(map[int64]store.MirrorRow),
		events:  make(map[string]store.TreasuryEvent),
	}
}

func (s *MemStore) GetMapping(_ context.Context, kind store.Kind, sourceID string) (*store.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[kind][sourceID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemStore) UpsertMapping(_ context.Context, kind store.Kind, m store.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.mappings[kind][m.SourceID]; ok && m.NotificationID == "" {
		// Matches the SQL upsert: an empty notification id preserves the link.
		m.NotificationID = existing.NotificationID
		m.NotificationChannelID = existing.NotificationChannelID
		m.NotificationCreatedAt = existing.NotificationCreatedAt
		m.NotificationEditedAt = existing.NotificationEditedAt
	}
	s.mappings[kind][m.SourceID] = m
	return nil
}

func (s *MemStore) DeleteMapping(_ context.Context, kind store.Kind, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings[kind], sourceID)
	return nil
}

func (s *MemStore) ListMappings(_ context.Context, kind store.Kind) ([]store.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Mapping, 0, len(s.mappings[kind]))
	for _, m := range s.mappings[kind] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *MemStore) RefreshNotificationEdit(_ context.Context, kind store.Kind, notificationID string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.mappings[kind] {
		if m.NotificationID == notificationID {
			m.NotificationEditedAt = editedAt
			s.mappings[kind][id] = m
		}
	}
	return nil
}

func (s *MemStore) GetMirror(_ context.Context, foreignID int64) (*store.MirrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.mirrors[foreignID]
	if !ok {
		return nil, nil
	}
	row.DerivedIDs = append([]string(nil), row.DerivedIDs...)
	return &row, nil
}

func (s *MemStore) UpsertMirror(_ context.Context, row store.MirrorRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.DerivedIDs = append([]string(nil), row.DerivedIDs...)
	s.mirrors[row.ForeignID] = row
	return nil
}

func (s *MemStore) DeleteMirror(_ context.Context, foreignID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mirrors, foreignID)
	return nil
}

func (s *MemStore) InsertTreasuryEvent(_ context.Context, ev store.TreasuryEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.TxHash]; ok {
		return false, nil
	}
	s.events[ev.TxHash] = ev
	return true, nil
}
