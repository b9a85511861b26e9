package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/render"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// starterFetchAttempts bounds the wait for a thread's starter message, which
// can lag the thread-create event by a moment on the remote side.
const starterFetchAttempts = 5

// ThreadFeed announces new threads of the watched forum in the target channel
// and keeps the announcements in sync with thread and starter-message edits.
type ThreadFeed struct {
	core
}

// NewThreadFeed wires the thread-feed reactor.
func NewThreadFeed(st MappingStore, gw Gateway, cfg *config.Config, selfID string, ready *gateway.Latch) *ThreadFeed {
	return &ThreadFeed{
		core: newCore(st, gw, cfg.ThreadFeed, store.KindThread, cfg.StalenessThreshold, cfg.HistoryFetchLimit, selfID, ready),
	}
}

func (f *ThreadFeed) render(t store.Mapping, content string, attachments []string) *gateway.Outbound {
	return render.Notification(render.Snapshot{
		SourceID:        t.SourceID,
		Name:            t.Name,
		JumpURL:         t.JumpURL,
		Content:         content,
		AttachmentURLs:  attachments,
		AuthorName:      t.AuthorName,
		AuthorAvatarURL: t.AuthorAvatarURL,
	}, f.cfg.Template, f.cfg.MentionRoleID, render.ColorNewThread)
}

// starterMessage fetches the thread's starter message, retrying briefly: the
// starter shares the thread's id but may not be fetchable immediately after
// the create event.
func (f *ThreadFeed) starterMessage(ctx context.Context, threadID string) (*gateway.Message, error) {
	var lastErr error
	for i := 0; i < starterFetchAttempts; i++ {
		msg, err := f.gw.FetchMessage(ctx, threadID, threadID)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if !gateway.IsNotFound(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, lastErr
}

// HandleThreadCreate announces a thread created in the watched forum.
func (f *ThreadFeed) HandleThreadCreate(ctx context.Context, t gateway.Thread) {
	if f.skip(t.OwnerID) || t.ParentID != f.cfg.SourceForumID {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, t.ID)
	if err != nil {
		slog.Error("thread mapping lookup failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	if row != nil && row.NotificationID != "" {
		slog.Debug("thread already announced", slog.String("thread_id", t.ID))
		return
	}
	starter, err := f.starterMessage(ctx, t.ID)
	if err != nil {
		slog.Error("thread starter fetch failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	mapping := threadMapping(t)
	notifID, err := f.gw.SendMessage(ctx, f.cfg.TargetChannel, f.render(mapping, starter.Content, starter.AttachmentURLs))
	if err != nil {
		slog.Error("thread notification send failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	mapping.NotificationID = notifID
	mapping.NotificationChannelID = f.cfg.TargetChannel
	mapping.NotificationCreatedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, mapping); err != nil {
		slog.Error("thread mapping upsert failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsSent)
	slog.Info("thread notification sent",
		slog.String("thread_id", t.ID), slog.String("notification_id", notifID), slog.String("name", t.Name))
}

// HandleThreadUpdate refreshes the announcement after a thread rename or
// metadata change. Untracked threads are ignored; the reconciler will pick
// them up if they belong to the watched forum.
func (f *ThreadFeed) HandleThreadUpdate(ctx context.Context, t gateway.Thread) {
	if f.skip(t.OwnerID) || t.ParentID != f.cfg.SourceForumID {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, t.ID)
	if err != nil {
		slog.Error("thread mapping lookup failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	if row == nil || row.NotificationID == "" {
		return
	}
	starter, err := f.starterMessage(ctx, t.ID)
	if err != nil {
		slog.Error("thread starter fetch failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	mapping := threadMapping(t)
	if err := f.gw.EditMessage(ctx, row.NotificationChannelID, row.NotificationID, f.render(mapping, starter.Content, starter.AttachmentURLs)); err != nil {
		slog.Error("thread notification edit failed",
			slog.String("thread_id", t.ID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
		return
	}
	mapping.NotificationID = row.NotificationID
	mapping.NotificationChannelID = row.NotificationChannelID
	mapping.NotificationCreatedAt = row.NotificationCreatedAt
	mapping.NotificationEditedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, mapping); err != nil {
		slog.Error("thread mapping upsert failed", slog.String("thread_id", t.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsEdited)
	slog.Info("thread notification updated", slog.String("thread_id", t.ID))
}

// HandleStarterEdit refreshes the announcement when a thread's starter
// message is edited. The starter message shares the thread's id, so a raw
// message-edit payload whose id matches a tracked thread belongs here.
func (f *ThreadFeed) HandleStarterEdit(ctx context.Context, after gateway.Message) {
	if f.skip(after.AuthorID) {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, after.ID)
	if err != nil {
		slog.Error("thread mapping lookup failed", slog.String("thread_id", after.ID), slog.Any("err", err))
		return
	}
	if row == nil || row.NotificationID == "" {
		return
	}
	snapshot := *row
	if err := f.gw.EditMessage(ctx, row.NotificationChannelID, row.NotificationID, f.render(snapshot, after.Content, after.AttachmentURLs)); err != nil {
		slog.Error("thread notification edit failed",
			slog.String("thread_id", after.ID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
		return
	}
	snapshot.NotificationEditedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, snapshot); err != nil {
		slog.Error("thread mapping upsert failed", slog.String("thread_id", after.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsEdited)
	slog.Info("thread notification updated after starter edit", slog.String("thread_id", after.ID))
}

// HandleThreadDelete retracts the announcement of a deleted thread. The row
// is removed even when the remote notification is already gone.
func (f *ThreadFeed) HandleThreadDelete(ctx context.Context, threadID string) {
	if f.ready != nil && !f.ready.Ready() {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, threadID)
	if err != nil {
		slog.Error("thread mapping lookup failed", slog.String("thread_id", threadID), slog.Any("err", err))
		return
	}
	if row == nil {
		return
	}
	if row.NotificationID != "" {
		if err := tolerateNotFound(f.gw.DeleteMessage(ctx, row.NotificationChannelID, row.NotificationID)); err != nil {
			slog.Error("thread notification delete failed",
				slog.String("thread_id", threadID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
			return
		}
	}
	if err := f.store.DeleteMapping(ctx, f.kind, threadID); err != nil {
		slog.Error("thread mapping delete failed", slog.String("thread_id", threadID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsDeleted)
	slog.Info("thread notification retracted", slog.String("thread_id", threadID))
}
