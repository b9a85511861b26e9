package greet

import (
	"context"
	"testing"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/testutil"
)

func TestHandleJoin(t *testing.T) {
	gw := testutil.NewFakeGateway()
	g := New(gw, &config.Config{
		WelcomeChannelID: "welcome",
		RulesChannelID:   "rules123",
		WelcomeTemplate:  "Welcome {member}! Check out <#{rules_channel_id}>.",
		WelcomeImageURL:  "https://cdn.example/welcome.png",
	})

	g.HandleJoin(context.Background(), "u1", "<@u1>")

	if len(gw.Sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(gw.Sent))
	}
	if gw.Sent[0].ChannelID != "welcome" {
		t.Errorf("sent to %q", gw.Sent[0].ChannelID)
	}
	if want := "Welcome <@u1>! Check out <#rules123>."; gw.Sent[0].Out.Content != want {
		t.Errorf("content = %q, want %q", gw.Sent[0].Out.Content, want)
	}
	if gw.Sent[0].Out.Embed == nil || gw.Sent[0].Out.Embed.ImageURL != "https://cdn.example/welcome.png" {
		t.Error("welcome image must ride along as an embed")
	}
}

func TestHandleJoinWithoutChannel(t *testing.T) {
	gw := testutil.NewFakeGateway()
	g := New(gw, &config.Config{WelcomeTemplate: "hi {member}"})
	g.HandleJoin(context.Background(), "u2", "<@u2>")
	if len(gw.Sent) != 0 {
		t.Error("greeter without a channel must stay silent")
	}
}
