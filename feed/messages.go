package feed

import (
	"context"
	"log/slog"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/render"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// MessageFeed relays role-triggered messages from threads of the watched
// forum into the target channel and keeps the relayed notifications in sync
// with edits and deletions.
type MessageFeed struct {
	core
	pred Predicate
}

// NewMessageFeed wires the message-feed reactor.
func NewMessageFeed(st MappingStore, gw Gateway, cfg *config.Config, selfID string, ready *gateway.Latch) *MessageFeed {
	return &MessageFeed{
		core: newCore(st, gw, cfg.Feed, store.KindMessage, cfg.StalenessThreshold, cfg.HistoryFetchLimit, selfID, ready),
		pred: Predicate{TriggerRoleID: cfg.Feed.TriggerRoleID, MentionRoleID: cfg.Feed.MentionRoleID},
	}
}

func (f *MessageFeed) watched(m gateway.Message) bool {
	return m.ParentID == f.cfg.SourceForumID
}

func (f *MessageFeed) render(m gateway.Message) *gateway.Outbound {
	return render.Notification(render.Snapshot{
		SourceID:        m.ID,
		Name:            m.ChannelName,
		JumpURL:         m.JumpURL,
		Content:         m.Content,
		AttachmentURLs:  m.AttachmentURLs,
		AuthorName:      m.AuthorName,
		AuthorAvatarURL: m.AuthorAvatarURL,
	}, f.cfg.Template, f.cfg.MentionRoleID, render.ColorFeed)
}

// HandleMessageCreate sends a feed notification for a newly observed message
// that matches the trigger predicate. Creation is idempotent: a second event
// for a tracked id is a no-op.
func (f *MessageFeed) HandleMessageCreate(ctx context.Context, m gateway.Message) {
	if f.skip(m.AuthorID) || !f.watched(m) || !f.pred.Match(m.RoleMentions) {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, m.ID)
	if err != nil {
		slog.Error("feed mapping lookup failed", slog.String("message_id", m.ID), slog.Any("err", err))
		return
	}
	if row != nil {
		slog.Debug("feed message already tracked", slog.String("message_id", m.ID))
		return
	}
	f.create(ctx, m)
}

// HandleMessageEdit applies the edit state machine: create when newly
// qualifying, retract when the predicate no longer holds, re-bump past the
// staleness threshold, edit in place otherwise.
func (f *MessageFeed) HandleMessageEdit(ctx context.Context, before *gateway.Message, after gateway.Message) {
	if f.skip(after.AuthorID) || !f.watched(after) || pinnedOnlyChange(before, after) {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, after.ID)
	if err != nil {
		slog.Error("feed mapping lookup failed", slog.String("message_id", after.ID), slog.Any("err", err))
		return
	}
	matches := f.pred.Match(after.RoleMentions)
	switch {
	case row == nil && matches:
		f.create(ctx, after)
	case row == nil:
		// untracked and still unqualified
	case !matches:
		f.retract(ctx, *row, "trigger role removed")
	case row.NotificationID == "":
		// tracked by backfill but never notified; an edit that still
		// qualifies sends the missing notification
		f.create(ctx, after)
	case f.now().Sub(row.CreatedAt) > f.staleness:
		f.rebump(ctx, *row, after)
	default:
		f.editInPlace(ctx, *row, after)
	}
}

// HandleMessageDelete retracts the notification for a deleted message. The
// row is removed even when the remote notification is already gone.
func (f *MessageFeed) HandleMessageDelete(ctx context.Context, channelID, messageID string) {
	if f.ready != nil && !f.ready.Ready() {
		return
	}
	row, err := f.store.GetMapping(ctx, f.kind, messageID)
	if err != nil {
		slog.Error("feed mapping lookup failed", slog.String("message_id", messageID), slog.Any("err", err))
		return
	}
	if row == nil {
		return
	}
	f.retract(ctx, *row, "source message deleted")
}

func (f *MessageFeed) create(ctx context.Context, m gateway.Message) {
	notifID, err := f.gw.SendMessage(ctx, f.cfg.TargetChannel, f.render(m))
	if err != nil {
		slog.Error("feed notification send failed",
			slog.String("message_id", m.ID), slog.String("channel", f.cfg.TargetChannel), slog.Any("err", err))
		return
	}
	row := messageMapping(m)
	row.NotificationID = notifID
	row.NotificationChannelID = f.cfg.TargetChannel
	row.NotificationCreatedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, row); err != nil {
		slog.Error("feed mapping upsert failed", slog.String("message_id", m.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsSent)
	slog.Info("feed notification sent",
		slog.String("message_id", m.ID), slog.String("notification_id", notifID),
		slog.String("author", m.AuthorName))
}

func (f *MessageFeed) editInPlace(ctx context.Context, row store.Mapping, after gateway.Message) {
	if err := f.gw.EditMessage(ctx, row.NotificationChannelID, row.NotificationID, f.render(after)); err != nil {
		slog.Error("feed notification edit failed",
			slog.String("message_id", after.ID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
		return
	}
	updated := messageMapping(after)
	updated.NotificationID = row.NotificationID
	updated.NotificationChannelID = row.NotificationChannelID
	updated.NotificationCreatedAt = row.NotificationCreatedAt
	updated.NotificationEditedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, updated); err != nil {
		slog.Error("feed mapping upsert failed", slog.String("message_id", after.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsEdited)
	slog.Info("feed notification edited",
		slog.String("message_id", after.ID), slog.String("notification_id", row.NotificationID))
}

// rebump deletes the old notification and sends a fresh one so the update
// surfaces at the top of the target channel again.
func (f *MessageFeed) rebump(ctx context.Context, row store.Mapping, after gateway.Message) {
	if err := tolerateNotFound(f.gw.DeleteMessage(ctx, row.NotificationChannelID, row.NotificationID)); err != nil {
		slog.Error("feed notification delete failed",
			slog.String("message_id", after.ID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
		return
	}
	notifID, err := f.gw.SendMessage(ctx, f.cfg.TargetChannel, f.render(after))
	if err != nil {
		slog.Error("feed notification resend failed", slog.String("message_id", after.ID), slog.Any("err", err))
		return
	}
	updated := messageMapping(after)
	updated.NotificationID = notifID
	updated.NotificationChannelID = f.cfg.TargetChannel
	updated.NotificationCreatedAt = f.now()
	if err := f.store.UpsertMapping(ctx, f.kind, updated); err != nil {
		slog.Error("feed mapping upsert failed", slog.String("message_id", after.ID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsSent)
	slog.Info("feed notification re-bumped",
		slog.String("message_id", after.ID), slog.String("old_notification_id", row.NotificationID),
		slog.String("notification_id", notifID))
}

func (f *MessageFeed) retract(ctx context.Context, row store.Mapping, reason string) {
	if row.NotificationID != "" {
		if err := tolerateNotFound(f.gw.DeleteMessage(ctx, row.NotificationChannelID, row.NotificationID)); err != nil {
			slog.Error("feed notification delete failed",
				slog.String("message_id", row.SourceID), slog.String("notification_id", row.NotificationID), slog.Any("err", err))
			return
		}
	}
	if err := f.store.DeleteMapping(ctx, f.kind, row.SourceID); err != nil {
		slog.Error("feed mapping delete failed", slog.String("message_id", row.SourceID), slog.Any("err", err))
		return
	}
	telemetry.Inc(telemetry.NotificationsDeleted)
	slog.Info("feed notification retracted",
		slog.String("message_id", row.SourceID), slog.String("reason", reason))
}
