// Package mirror relays messages from Telegram chats into Discord channels.
// Long messages fan out into several Discord messages; the store remembers the
// ordered derived ids per foreign message so later Telegram edits can be
// replayed onto the right Discord messages.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// Store is the slice of the mapping store the mirror uses.
type Store interface {
	GetMirror(ctx context.Context, foreignID int64) (*store.MirrorRow, error)
	UpsertMirror(ctx context.Context, row store.MirrorRow) error
	DeleteMirror(ctx context.Context, foreignID int64) error
}

// Executor serializes mirror work with the rest of the event handlers.
// gateway.Loop satisfies it.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Mirror relays configured Telegram chats into Discord channels one-to-one.
type Mirror struct {
	store      Store
	gw         gateway.Messenger
	exec       Executor
	routes     map[int64]string
	chunkLimit int
	tzOffset   time.Duration
	now        func() time.Time
}

// New wires the mirror from the configured chat-to-channel routes.
func New(st Store, gw gateway.Messenger, exec Executor, cfg *config.Config) *Mirror {
	routes := make(map[int64]string, len(cfg.MirrorChatIDs))
	for i, chatID := range cfg.MirrorChatIDs {
		routes[chatID] = cfg.MirrorChannelIDs[i]
	}
	return &Mirror{
		store:      st,
		gw:         gw,
		exec:       exec,
		routes:     routes,
		chunkLimit: cfg.MirrorChunkLimit,
		tzOffset:   cfg.MirrorTZOffset,
		now:        time.Now,
	}
}

// Run consumes Telegram long-poll updates until ctx is cancelled. Each update
// is handled through the executor so mirror writes never interleave with the
// feed handlers.
func (m *Mirror) Run(ctx context.Context, bot *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()
	slog.Info("telegram mirror starting", slog.Int("routes", len(m.routes)))
	for update := range updates {
		msg, edited := pickMessage(update)
		if msg == nil {
			continue
		}
		if _, ok := m.routes[msg.Chat.ID]; !ok {
			continue
		}
		err := m.exec.Do(ctx, func(runCtx context.Context) error {
			if edited {
				return m.HandleEdit(runCtx, msg)
			}
			return m.HandleNew(runCtx, msg)
		})
		if err != nil {
			slog.Error("mirror update failed",
				slog.Int64("chat_id", msg.Chat.ID), slog.Int("foreign_id", msg.MessageID), slog.Any("err", err))
		}
	}
	slog.Info("telegram mirror stopped")
}

func pickMessage(u tgbotapi.Update) (msg *tgbotapi.Message, edited bool) {
	switch {
	case u.Message != nil:
		return u.Message, false
	case u.EditedMessage != nil:
		return u.EditedMessage, true
	case u.ChannelPost != nil:
		return u.ChannelPost, false
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost, true
	}
	return nil, false
}

// HandleNew fans a fresh Telegram message out into Discord. The first chunk
// carries the author/timestamp header and, when the source is a reply to an
// already-mirrored message, anchors to the last derived id of that message.
func (m *Mirror) HandleNew(ctx context.Context, msg *tgbotapi.Message) error {
	channelID := m.routes[msg.Chat.ID]
	chunks := m.renderChunks(msg)
	if len(chunks) == 0 {
		return nil
	}
	replyTo, err := m.replyAnchor(ctx, msg)
	if err != nil {
		return err
	}
	var derived []string
	for i, chunk := range chunks {
		out := &gateway.Outbound{Content: chunk}
		if i == 0 {
			out.ReplyTo = replyTo
		}
		id, err := m.gw.SendMessage(ctx, channelID, out)
		if err != nil {
			return fmt.Errorf("mirror send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		derived = append(derived, id)
	}
	if err := m.store.UpsertMirror(ctx, store.MirrorRow{
		ForeignID:  int64(msg.MessageID),
		SentAt:     m.now(),
		DerivedIDs: derived,
	}); err != nil {
		return fmt.Errorf("mirror upsert %d: %w", msg.MessageID, err)
	}
	telemetry.Inc(telemetry.MirroredMessages)
	slog.Info("mirrored telegram message",
		slog.Int("foreign_id", msg.MessageID), slog.Int("chunks", len(chunks)),
		slog.String("channel", channelID))
	return nil
}

// HandleEdit replays a Telegram edit onto the derived Discord messages
// positionally. Extra chunks are appended as new messages; derived messages
// beyond the new chunk count are deleted and the stored list trimmed. Edits of
// messages we never mirrored are ignored.
func (m *Mirror) HandleEdit(ctx context.Context, msg *tgbotapi.Message) error {
	row, err := m.store.GetMirror(ctx, int64(msg.MessageID))
	if err != nil {
		return fmt.Errorf("mirror lookup %d: %w", msg.MessageID, err)
	}
	if row == nil {
		return nil
	}
	channelID := m.routes[msg.Chat.ID]
	chunks := m.renderChunks(msg)
	if len(chunks) == 0 {
		// Content edited away entirely: the derived messages go too.
		for _, id := range row.DerivedIDs {
			if err := ignoreNotFound(m.gw.DeleteMessage(ctx, channelID, id)); err != nil {
				return fmt.Errorf("mirror delete %s: %w", id, err)
			}
		}
		if err := m.store.DeleteMirror(ctx, row.ForeignID); err != nil {
			return fmt.Errorf("mirror row delete %d: %w", row.ForeignID, err)
		}
		return nil
	}

	derived := row.DerivedIDs
	shared := len(chunks)
	if len(derived) < shared {
		shared = len(derived)
	}
	for i := 0; i < shared; i++ {
		if err := m.gw.EditMessage(ctx, channelID, derived[i], &gateway.Outbound{Content: chunks[i]}); err != nil {
			return fmt.Errorf("mirror edit chunk %d: %w", i+1, err)
		}
	}
	for i := shared; i < len(chunks); i++ {
		id, err := m.gw.SendMessage(ctx, channelID, &gateway.Outbound{Content: chunks[i]})
		if err != nil {
			return fmt.Errorf("mirror append chunk %d: %w", i+1, err)
		}
		derived = append(derived, id)
	}
	for _, id := range derived[len(chunks):] {
		if err := ignoreNotFound(m.gw.DeleteMessage(ctx, channelID, id)); err != nil {
			return fmt.Errorf("mirror delete surplus %s: %w", id, err)
		}
	}
	derived = derived[:len(chunks)]

	row.DerivedIDs = derived
	if err := m.store.UpsertMirror(ctx, *row); err != nil {
		return fmt.Errorf("mirror upsert %d: %w", row.ForeignID, err)
	}
	slog.Info("mirrored telegram edit",
		slog.Int("foreign_id", msg.MessageID), slog.Int("chunks", len(chunks)))
	return nil
}

// renderChunks splits the message text and prefixes the first chunk with the
// author/timestamp header.
func (m *Mirror) renderChunks(msg *tgbotapi.Message) []string {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := SplitMessage(text, m.chunkLimit)
	ts := msg.Time().UTC().Add(m.tzOffset).Format("2006-01-02 15:04:05")
	chunks[0] = fmt.Sprintf("```%s | %s```\n%s", authorName(msg), ts, chunks[0])
	return chunks
}

// replyAnchor resolves the Discord message a mirrored reply should attach to:
// the last derived id of the replied-to foreign message, or empty when the
// source is not a reply or the replied-to message was never mirrored.
func (m *Mirror) replyAnchor(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	if msg.ReplyToMessage == nil {
		return "", nil
	}
	row, err := m.store.GetMirror(ctx, int64(msg.ReplyToMessage.MessageID))
	if err != nil {
		return "", fmt.Errorf("mirror reply lookup %d: %w", msg.ReplyToMessage.MessageID, err)
	}
	if row == nil || len(row.DerivedIDs) == 0 {
		return "", nil
	}
	return row.DerivedIDs[len(row.DerivedIDs)-1], nil
}

func authorName(msg *tgbotapi.Message) string {
	if msg.From != nil {
		if msg.From.UserName != "" {
			return msg.From.UserName
		}
		return strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	if msg.AuthorSignature != "" {
		return msg.AuthorSignature
	}
	return msg.Chat.Title
}

func ignoreNotFound(err error) error {
	if err == nil || gateway.IsNotFound(err) {
		return nil
	}
	return err
}
