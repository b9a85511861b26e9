// Package greet posts a welcome message when a member joins the guild.
package greet

import (
	"context"
	"log/slog"
	"strings"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
)

// Greeter welcomes new members in the configured channel. The template may
// contain {member} and {rules_channel_id} placeholders; an optional image is
// attached as an embed.
type Greeter struct {
	gw       gateway.Messenger
	channel  string
	rules    string
	template string
	imageURL string
}

// New wires the greeter from config.
func New(gw gateway.Messenger, cfg *config.Config) *Greeter {
	return &Greeter{
		gw:       gw,
		channel:  cfg.WelcomeChannelID,
		rules:    cfg.RulesChannelID,
		template: cfg.WelcomeTemplate,
		imageURL: cfg.WelcomeImageURL,
	}
}

// HandleJoin posts the welcome message for one member.
func (g *Greeter) HandleJoin(ctx context.Context, memberID, mention string) {
	if g.channel == "" {
		return
	}
	text := strings.ReplaceAll(g.template, "{member}", mention)
	text = strings.ReplaceAll(text, "{rules_channel_id}", g.rules)
	out := &gateway.Outbound{Content: text}
	if g.imageURL != "" {
		out.Embed = &gateway.Embed{ImageURL: g.imageURL}
	}
	if _, err := g.gw.SendMessage(ctx, g.channel, out); err != nil {
		slog.Error("welcome message failed", slog.String("member_id", memberID), slog.Any("err", err))
		return
	}
	slog.Info("welcomed new member", slog.String("member_id", memberID))
}
