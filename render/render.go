// Package render turns source-entity snapshots into outbound notification
// payloads. Rendering is pure and deterministic: the sync engine re-renders
// and diffs instead of patching, so identical input must always produce
// identical output.
package render

import (
	"strings"

	"github.com/warmindo-dev/forum-relay/gateway"
)

// Embed colors for the two notification variants.
const (
	ColorNewThread = 0x2ecc71
	ColorFeed      = 0xf1c40f
)

// Snapshot is the subset of a source entity the renderer needs.
type Snapshot struct {
	SourceID        string
	Name            string
	JumpURL         string
	Content         string
	AttachmentURLs  []string
	AuthorName      string
	AuthorAvatarURL string
}

// Notification renders the payload for a snapshot. The template's {mention}
// placeholder receives the mention role id and {name} the entity name. The
// embed footer carries the source id as decimal text; that marker is the
// durable back-reference the reconciler can rebuild the mapping from.
func Notification(s Snapshot, template, mentionRoleID string, color int) *gateway.Outbound {
	content := strings.ReplaceAll(template, "{mention}", mentionRoleID)
	content = strings.ReplaceAll(content, "{name}", s.Name)
	embed := &gateway.Embed{
		Title:         s.JumpURL,
		Description:   s.Content,
		Color:         color,
		AuthorName:    s.AuthorName,
		AuthorIconURL: s.AuthorAvatarURL,
		Footer:        s.SourceID,
	}
	if len(s.AttachmentURLs) > 0 {
		embed.ImageURL = s.AttachmentURLs[0]
	}
	return &gateway.Outbound{Content: content, Embed: embed}
}

// SourceID extracts the source-id marker from a notification's embed footer.
// Returns "" when the message carries no usable marker. The marker is the
// last whitespace-separated field of the footer and must be all digits.
func SourceID(footer string) string {
	fields := strings.Fields(footer)
	if len(fields) == 0 {
		return ""
	}
	id := fields[len(fields)-1]
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}
