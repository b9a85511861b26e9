package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/render"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// Backfill seeds the mapping from the live forum and the target channel's
// history. It runs once at startup, before the ready latch is released: the
// mapping must be complete before any event handler or the reconciler acts.
// Enumeration is sequential to respect remote rate limits.
func (f *ThreadFeed) Backfill(ctx context.Context) error {
	live, err := f.liveThreads(ctx)
	if err != nil {
		return fmt.Errorf("thread backfill enumeration: %w", err)
	}
	inserted := 0
	for id, mapping := range live {
		row, err := f.store.GetMapping(ctx, f.kind, id)
		if err != nil {
			return fmt.Errorf("thread backfill lookup %s: %w", id, err)
		}
		if row != nil {
			continue
		}
		if err := f.store.UpsertMapping(ctx, f.kind, mapping); err != nil {
			return fmt.Errorf("thread backfill upsert %s: %w", id, err)
		}
		inserted++
	}
	linked, err := f.linkMarkers(ctx)
	if err != nil {
		return err
	}
	telemetry.Add(telemetry.BackfillRows, float64(inserted))
	slog.Info("thread backfill complete", slog.Int("threads", len(live)),
		slog.Int("inserted", inserted), slog.Int("linked", linked))
	return nil
}

// Backfill seeds the message mapping from the histories of all live threads
// and re-links notifications found in the target channel via their footer
// markers.
func (f *MessageFeed) Backfill(ctx context.Context) error {
	live, err := f.liveMessages(ctx)
	if err != nil {
		return fmt.Errorf("feed backfill enumeration: %w", err)
	}
	inserted := 0
	for id, mapping := range live {
		row, err := f.store.GetMapping(ctx, f.kind, id)
		if err != nil {
			return fmt.Errorf("feed backfill lookup %s: %w", id, err)
		}
		if row != nil {
			continue
		}
		if err := f.store.UpsertMapping(ctx, f.kind, mapping); err != nil {
			return fmt.Errorf("feed backfill upsert %s: %w", id, err)
		}
		inserted++
	}
	linked, err := f.linkMarkers(ctx)
	if err != nil {
		return err
	}
	telemetry.Add(telemetry.BackfillRows, float64(inserted))
	slog.Info("feed backfill complete", slog.Int("messages", len(live)),
		slog.Int("inserted", inserted), slog.Int("linked", linked))
	return nil
}

// liveThreads enumerates active and archived threads of the watched forum.
func (c *core) liveThreads(ctx context.Context) (map[string]store.Mapping, error) {
	live := make(map[string]store.Mapping)
	active, err := c.gw.ActiveThreads(ctx, c.cfg.SourceForumID)
	if err != nil {
		return nil, err
	}
	archived, err := c.gw.ArchivedThreads(ctx, c.cfg.SourceForumID)
	if err != nil {
		return nil, err
	}
	for _, t := range append(active, archived...) {
		live[t.ID] = threadMapping(t)
	}
	return live, nil
}

// liveMessages enumerates predicate-matching messages across all live
// threads of the watched forum, sequentially per thread.
func (f *MessageFeed) liveMessages(ctx context.Context) (map[string]store.Mapping, error) {
	liveThreads, err := f.core.liveThreads(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]store.Mapping)
	for threadID := range liveThreads {
		msgs, err := f.gw.ThreadMessages(ctx, threadID, f.histLimit)
		if err != nil {
			return nil, fmt.Errorf("enumerate thread %s: %w", threadID, err)
		}
		for _, m := range msgs {
			if f.pred.Match(m.RoleMentions) {
				live[m.ID] = messageMapping(m)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return live, nil
}

// linkMarkers scans the target channel's history for notifications whose
// footer marker points at a tracked source entity without a linked
// notification, and restores the link. This is the recovery path that lets a
// from-scratch pass rebuild the mapping purely from remote history.
func (c *core) linkMarkers(ctx context.Context) (int, error) {
	hist, err := c.gw.ChannelMessages(ctx, c.cfg.TargetChannel, 0)
	if err != nil {
		return 0, fmt.Errorf("fetch target history %s: %w", c.cfg.TargetChannel, err)
	}
	linked := 0
	for _, msg := range hist {
		n, err := c.linkMarker(ctx, msg)
		if err != nil {
			return linked, err
		}
		linked += n
	}
	return linked, nil
}

func (c *core) linkMarker(ctx context.Context, msg gateway.Message) (int, error) {
	sourceID := render.SourceID(msg.EmbedFooter)
	if sourceID == "" {
		return 0, nil
	}
	row, err := c.store.GetMapping(ctx, c.kind, sourceID)
	if err != nil {
		return 0, fmt.Errorf("marker lookup %s: %w", sourceID, err)
	}
	if row == nil || row.NotificationID != "" {
		return 0, nil
	}
	row.NotificationID = msg.ID
	row.NotificationChannelID = msg.ChannelID
	row.NotificationCreatedAt = msg.CreatedAt
	row.NotificationEditedAt = msg.EditedAt
	if err := c.store.UpsertMapping(ctx, c.kind, *row); err != nil {
		return 0, fmt.Errorf("marker link %s: %w", sourceID, err)
	}
	return 1, nil
}
