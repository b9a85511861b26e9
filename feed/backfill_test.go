package feed

import (
	"context"
	"testing"
	"time"

	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
)

func TestThreadFeedBackfill(t *testing.T) {
	f, st, gw := newTestThreadFeed(t)
	ctx := context.Background()

	gw.Threads["forum"] = []gateway.Thread{forumThread("301", "alpha")}
	gw.Archived["forum"] = []gateway.Thread{forumThread("302", "beta")}
	// An announcement for 301 already exists in the target channel; its
	// footer marker must re-link the freshly inserted row.
	gw.Seed(gateway.Message{
		ID:          "old-notif",
		ChannelID:   "announce",
		EmbedFooter: "301",
		CreatedAt:   testBase.Add(-time.Hour),
	})

	if err := f.Backfill(ctx); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	rows, err := st.ListMappings(ctx, store.KindThread)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("backfill inserted %d rows, want 2", len(rows))
	}
	linked, _ := st.GetMapping(ctx, store.KindThread, "301")
	if linked == nil || linked.NotificationID != "old-notif" {
		t.Error("backfill must re-link announcements through their footer marker")
	}
	unlinked, _ := st.GetMapping(ctx, store.KindThread, "302")
	if unlinked == nil || unlinked.NotificationID != "" {
		t.Error("threads without an announcement stay unlinked")
	}
	if len(gw.Sent) != 0 {
		t.Error("backfill must never send messages")
	}
}

func TestMessageFeedBackfill(t *testing.T) {
	f, st, gw := newTestMessageFeed(t)
	ctx := context.Background()

	gw.Threads["forum"] = []gateway.Thread{forumThread("310", "builds")}
	match := feedMessage("311")
	match.ChannelID = "310"
	gw.Seed(match)
	miss := feedMessage("312")
	miss.ChannelID = "310"
	miss.RoleMentions = []string{"other"}
	gw.Seed(miss)

	if err := f.Backfill(ctx); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	if row, _ := st.GetMapping(ctx, store.KindMessage, "311"); row == nil {
		t.Error("matching message must be tracked after backfill")
	}
	if row, _ := st.GetMapping(ctx, store.KindMessage, "312"); row != nil {
		t.Error("non-matching message must not be tracked")
	}
}
