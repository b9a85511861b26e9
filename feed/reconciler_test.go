package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
)

func TestReconcileRemovesVanishedThread(t *testing.T) {
	f, st, gw := newTestThreadFeed(t)
	ctx := context.Background()

	// 601 is still live, 602 vanished while the process was offline.
	gw.Threads["forum"] = []gateway.Thread{forumThread("601", "alive")}
	gw.Seed(gateway.Message{ID: "n601", ChannelID: "announce", EmbedFooter: "601", CreatedAt: testBase})
	gw.Seed(gateway.Message{ID: "n602", ChannelID: "announce", EmbedFooter: "602", CreatedAt: testBase})
	mustUpsert(t, st, store.KindThread, store.Mapping{
		SourceID: "601", Name: "alive",
		NotificationID: "n601", NotificationChannelID: "announce",
	})
	mustUpsert(t, st, store.KindThread, store.Mapping{
		SourceID: "602", Name: "gone",
		NotificationID: "n602", NotificationChannelID: "announce",
	})

	if err := f.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if row, _ := st.GetMapping(ctx, store.KindThread, "602"); row != nil {
		t.Error("vanished thread's row must be removed")
	}
	if len(gw.Deleted) != 1 || gw.Deleted[0] != "n602" {
		t.Errorf("vanished thread's announcement must be retracted, deleted %v", gw.Deleted)
	}
	if row, _ := st.GetMapping(ctx, store.KindThread, "601"); row == nil || row.NotificationID != "n601" {
		t.Error("live thread's row and link must survive a sweep")
	}
}

func TestReconcileRelinksByMarker(t *testing.T) {
	f, st, gw := newTestThreadFeed(t)
	ctx := context.Background()

	gw.Threads["forum"] = []gateway.Thread{forumThread("611", "orphaned")}
	gw.Seed(gateway.Message{ID: "n611", ChannelID: "announce", EmbedFooter: "611", CreatedAt: testBase})
	mustUpsert(t, st, store.KindThread, store.Mapping{SourceID: "611", Name: "orphaned"})

	if err := f.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	row, _ := st.GetMapping(ctx, store.KindThread, "611")
	if row == nil || row.NotificationID != "n611" {
		t.Error("marker-only announcement must be re-linked")
	}
}

func TestReconcileRefreshesNotificationEdit(t *testing.T) {
	f, st, gw := newTestThreadFeed(t)
	ctx := context.Background()

	edited := testBase.Add(30 * time.Minute)
	gw.Threads["forum"] = []gateway.Thread{forumThread("621", "tracked")}
	gw.Seed(gateway.Message{
		ID: "n621", ChannelID: "announce", EmbedFooter: "621",
		CreatedAt: testBase, EditedAt: edited,
	})
	mustUpsert(t, st, store.KindThread, store.Mapping{
		SourceID: "621", Name: "tracked",
		NotificationID: "n621", NotificationChannelID: "announce",
	})

	if err := f.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	row, _ := st.GetMapping(ctx, store.KindThread, "621")
	if row == nil || !row.NotificationEditedAt.Equal(edited) {
		t.Error("sweep must pick up remote edit timestamps")
	}
}

func TestReconcileContinuesPastFailingRow(t *testing.T) {
	f, st, gw := newTestThreadFeed(t)
	ctx := context.Background()

	// Both threads vanished; retracting the first announcement fails with a
	// permanent non-404, the second must still be healed.
	gw.Seed(gateway.Message{ID: "n701", ChannelID: "announce", EmbedFooter: "701", CreatedAt: testBase})
	gw.Seed(gateway.Message{ID: "n702", ChannelID: "announce", EmbedFooter: "702", CreatedAt: testBase})
	gw.DeleteErr = map[string]error{"n701": errors.New("missing access")}
	mustUpsert(t, st, store.KindThread, store.Mapping{
		SourceID: "701", Name: "stuck",
		NotificationID: "n701", NotificationChannelID: "announce",
	})
	mustUpsert(t, st, store.KindThread, store.Mapping{
		SourceID: "702", Name: "healable",
		NotificationID: "n702", NotificationChannelID: "announce",
	})

	if err := f.Reconcile(ctx); err == nil {
		t.Fatal("a sweep with a failing row must report the failure")
	}

	if row, _ := st.GetMapping(ctx, store.KindThread, "701"); row == nil {
		t.Error("row whose retraction failed must be kept for the next sweep")
	}
	if row, _ := st.GetMapping(ctx, store.KindThread, "702"); row != nil {
		t.Error("rows after the failing one must still be healed")
	}
	if len(gw.Deleted) != 1 || gw.Deleted[0] != "n702" {
		t.Errorf("deleted %v, want only n702 retracted", gw.Deleted)
	}
}

func TestReconcilerRunOnceToleratesMissingFeeds(t *testing.T) {
	rec := &Reconciler{Interval: time.Minute}
	rec.RunOnce(context.Background())
}

func mustUpsert(t *testing.T, st MappingStore, kind store.Kind, m store.Mapping) {
	t.Helper()
	if err := st.UpsertMapping(context.Background(), kind, m); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}
}
