package render

import (
	"reflect"
	"testing"
)

func TestNotification(t *testing.T) {
	snap := Snapshot{
		SourceID:        "123456789",
		Name:            "tooling",
		JumpURL:         "https://discord.com/channels/1/2/123456789",
		Content:         "release cut",
		AttachmentURLs:  []string{"https://cdn.example/a.png", "https://cdn.example/b.png"},
		AuthorName:      "maya",
		AuthorAvatarURL: "https://cdn.example/maya.png",
	}
	out := Notification(snap, "<@&{mention}> update in {name}", "555", ColorFeed)

	if out.Content != "<@&555> update in tooling" {
		t.Errorf("content = %q", out.Content)
	}
	if out.Embed == nil {
		t.Fatal("expected embed")
	}
	if out.Embed.Footer != "123456789" {
		t.Errorf("footer = %q, want source id", out.Embed.Footer)
	}
	if out.Embed.ImageURL != "https://cdn.example/a.png" {
		t.Errorf("image = %q, want first attachment", out.Embed.ImageURL)
	}
	if out.Embed.Title != snap.JumpURL || out.Embed.Description != snap.Content {
		t.Errorf("embed title/description = %q/%q", out.Embed.Title, out.Embed.Description)
	}
	if out.Embed.Color != ColorFeed {
		t.Errorf("color = %#x", out.Embed.Color)
	}

	// Deterministic: same input, same output.
	again := Notification(snap, "<@&{mention}> update in {name}", "555", ColorFeed)
	if !reflect.DeepEqual(out, again) {
		t.Error("rendering is not deterministic")
	}
}

func TestNotificationNoAttachments(t *testing.T) {
	out := Notification(Snapshot{SourceID: "7", Name: "x"}, "{name}", "", ColorNewThread)
	if out.Embed.ImageURL != "" {
		t.Errorf("image = %q, want empty", out.Embed.ImageURL)
	}
}

func TestSourceID(t *testing.T) {
	cases := []struct {
		name   string
		footer string
		want   string
	}{
		{"bare id", "123456789", "123456789"},
		{"prefixed marker", "ref 123456789", "123456789"},
		{"multi-word prefix", "thread marker 42", "42"},
		{"empty footer", "", ""},
		{"whitespace only", "   ", ""},
		{"non-numeric tail", "ref abc123", ""},
		{"snowflake-like text", "see 12a34", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SourceID(tc.footer); got != tc.want {
				t.Errorf("SourceID(%q) = %q, want %q", tc.footer, got, tc.want)
			}
		})
	}
}
