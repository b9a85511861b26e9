package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/render"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// Reconciler periodically diffs the mapping store against the live forum and
// the target channels, healing drift accumulated while the process was
// offline or after failed remote calls. It is also the retry mechanism: no
// individual send/edit/delete is retried, the next sweep converges instead.
type Reconciler struct {
	Threads  *ThreadFeed
	Messages *MessageFeed
	Interval time.Duration
	Ready    *gateway.Latch
}

// Start runs the reconcile loop until ctx is cancelled. The first sweep waits
// for the backfill latch so it never races the startup enumeration.
func (r *Reconciler) Start(ctx context.Context) {
	if r.Ready != nil {
		select {
		case <-ctx.Done():
			return
		case <-r.Ready.Done():
		}
	}
	slog.Info("reconciler starting", slog.Duration("interval", r.Interval))
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over both mapping kinds.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if r.Threads != nil {
		if err := r.Threads.Reconcile(ctx); err != nil {
			slog.Warn("thread reconcile failed", slog.Any("err", err))
		}
	}
	if r.Messages != nil {
		if err := r.Messages.Reconcile(ctx); err != nil {
			slog.Warn("feed reconcile failed", slog.Any("err", err))
		}
	}
	telemetry.Inc(telemetry.ReconcileCycles)
}

// Reconcile heals the thread mapping against the live forum.
func (f *ThreadFeed) Reconcile(ctx context.Context) error {
	live, err := f.liveThreads(ctx)
	if err != nil {
		return fmt.Errorf("thread reconcile enumeration: %w", err)
	}
	return f.core.reconcile(ctx, live)
}

// Reconcile heals the message mapping against the live thread histories.
func (f *MessageFeed) Reconcile(ctx context.Context) error {
	live, err := f.liveMessages(ctx)
	if err != nil {
		return fmt.Errorf("feed reconcile enumeration: %w", err)
	}
	return f.core.reconcile(ctx, live)
}

// reconcile applies one sweep for one mapping kind:
//
//   - refresh (and insert missing) metadata rows for live source entities;
//   - delete rows whose source entity vanished while the process was away;
//   - refresh notification edit timestamps from the target history;
//   - re-link notifications found only through their footer marker.
//
// Store writes use the same lock discipline as the event reactors, so a sweep
// may safely interleave with live events. A failing row is logged and skipped
// so one stuck entity cannot starve the rest of the sweep; the next sweep
// retries it.
func (c *core) reconcile(ctx context.Context, live map[string]store.Mapping) error {
	for id, mapping := range live {
		if err := c.store.UpsertMapping(ctx, c.kind, mapping); err != nil {
			return fmt.Errorf("reconcile refresh %s: %w", id, err)
		}
	}

	hist, err := c.gw.ChannelMessages(ctx, c.cfg.TargetChannel, c.histLimit)
	if err != nil {
		return fmt.Errorf("reconcile target history %s: %w", c.cfg.TargetChannel, err)
	}
	histByID := make(map[string]gateway.Message, len(hist))
	byMarker := make(map[string]gateway.Message)
	for _, msg := range hist {
		histByID[msg.ID] = msg
		if sourceID := render.SourceID(msg.EmbedFooter); sourceID != "" {
			byMarker[sourceID] = msg
		}
	}

	rows, err := c.store.ListMappings(ctx, c.kind)
	if err != nil {
		return fmt.Errorf("reconcile list %s mappings: %w", c.kind, err)
	}
	healed := 0
	var sweepErrs []error
	fail := func(op string, row store.Mapping, err error) {
		slog.Warn("reconcile row failed", slog.String("kind", string(c.kind)),
			slog.String("source_id", row.SourceID), slog.String("op", op), slog.Any("err", err))
		sweepErrs = append(sweepErrs, fmt.Errorf("%s %s: %w", op, row.SourceID, err))
	}
	for _, row := range rows {
		if _, alive := live[row.SourceID]; !alive {
			// Entity vanished while we were offline: retract the notification
			// and drop the row.
			if row.NotificationID != "" {
				if err := tolerateNotFound(c.gw.DeleteMessage(ctx, row.NotificationChannelID, row.NotificationID)); err != nil {
					fail("retract", row, err)
					continue
				}
				telemetry.Inc(telemetry.NotificationsDeleted)
			}
			if err := c.store.DeleteMapping(ctx, c.kind, row.SourceID); err != nil {
				fail("delete", row, err)
				continue
			}
			healed++
			slog.Info("reconciler removed vanished entity",
				slog.String("kind", string(c.kind)), slog.String("source_id", row.SourceID))
			continue
		}
		if row.NotificationID != "" {
			if msg, ok := histByID[row.NotificationID]; ok && msg.EditedAt.After(row.NotificationEditedAt) {
				if err := c.store.RefreshNotificationEdit(ctx, c.kind, row.NotificationID, msg.EditedAt); err != nil {
					fail("refresh", row, err)
				}
			}
			continue
		}
		if msg, ok := byMarker[row.SourceID]; ok {
			n, err := c.linkMarker(ctx, msg)
			if err != nil {
				fail("relink", row, err)
				continue
			}
			healed += n
		}
	}
	telemetry.Add(telemetry.ReconcileHeals, float64(healed))
	telemetry.SetMappingRows(len(rows) - healed)
	return errors.Join(sweepErrs...)
}
