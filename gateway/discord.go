package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Messenger, ThreadLister, and PresenceSetter over a
// discordgo session. The session is opened by Connect and closed by Close.
type Discord struct {
	s       *discordgo.Session
	guildID string
}

// Events are the callbacks the sync engine registers through Bind. Every
// callback runs on the Loop, never on a discordgo dispatch goroutine.
type Events struct {
	OnReady         func(ctx context.Context)
	OnMessageCreate func(ctx context.Context, m Message)
	OnMessageEdit   func(ctx context.Context, before *Message, after Message)
	OnMessageDelete func(ctx context.Context, channelID, messageID string)
	OnThreadCreate  func(ctx context.Context, t Thread)
	OnThreadUpdate  func(ctx context.Context, t Thread)
	OnThreadDelete  func(ctx context.Context, threadID string)
	OnMemberJoin    func(ctx context.Context, memberID, mention string)
}

// NewDiscord builds a session with the intents the relays need. The session
// is not opened yet; call Connect after Bind.
func NewDiscord(token, guildID string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	return &Discord{s: s, guildID: guildID}, nil
}

// Connect opens the gateway connection.
func (d *Discord) Connect() error {
	if err := d.s.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close shuts the gateway connection down.
func (d *Discord) Close() error { return d.s.Close() }

// SelfID returns the bot's own user id, used to ignore the bot's own events.
func (d *Discord) SelfID() string {
	if d.s.State != nil && d.s.State.User != nil {
		return d.s.State.User.ID
	}
	return ""
}

// Bind registers gateway event handlers. Each handler converts the discordgo
// payload and hands it to the loop, so relay handlers never run concurrently.
func (d *Discord) Bind(loop *Loop, ev Events) {
	d.s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		if ev.OnReady == nil {
			return
		}
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnReady(ctx)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if ev.OnMessageCreate == nil || (m.GuildID != "" && m.GuildID != d.guildID) {
			return
		}
		msg := d.toMessage(m.Message)
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnMessageCreate(ctx, msg)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if ev.OnMessageEdit == nil || (m.GuildID != "" && m.GuildID != d.guildID) {
			return
		}
		after := d.toMessage(m.Message)
		var before *Message
		if m.BeforeUpdate != nil {
			b := d.toMessage(m.BeforeUpdate)
			before = &b
		}
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnMessageEdit(ctx, before, after)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		if ev.OnMessageDelete == nil {
			return
		}
		channelID, messageID := m.ChannelID, m.ID
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnMessageDelete(ctx, channelID, messageID)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadCreate) {
		if ev.OnThreadCreate == nil || !t.NewlyCreated {
			return
		}
		thread := d.toThread(t.Channel)
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnThreadCreate(ctx, thread)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
		if ev.OnThreadUpdate == nil {
			return
		}
		thread := d.toThread(t.Channel)
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnThreadUpdate(ctx, thread)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, t *discordgo.ThreadDelete) {
		if ev.OnThreadDelete == nil {
			return
		}
		threadID := t.ID
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnThreadDelete(ctx, threadID)
			return nil
		})
	})
	d.s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if ev.OnMemberJoin == nil || m.GuildID != d.guildID {
			return
		}
		memberID, mention := m.User.ID, m.User.Mention()
		_ = loop.Do(context.Background(), func(ctx context.Context) error {
			ev.OnMemberJoin(ctx, memberID, mention)
			return nil
		})
	})
}

// SendMessage posts an Outbound payload and returns the new message id.
func (d *Discord) SendMessage(ctx context.Context, channelID string, m *Outbound) (string, error) {
	send := &discordgo.MessageSend{Content: m.Content}
	if m.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(m.Embed)}
	}
	if m.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: m.ReplyTo, ChannelID: channelID, GuildID: d.guildID}
	}
	msg, err := d.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// EditMessage replaces content and embed of an existing message.
func (d *Discord) EditMessage(ctx context.Context, channelID, messageID string, m *Outbound) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.SetContent(m.Content)
	if m.Embed != nil {
		edit.SetEmbeds([]*discordgo.MessageEmbed{toDiscordEmbed(m.Embed)})
	}
	if _, err := d.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %s in %s: %w", messageID, channelID, err)
	}
	return nil
}

// DeleteMessage removes a message.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := d.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s in %s: %w", messageID, channelID, err)
	}
	return nil
}

// FetchMessage retrieves a single message.
func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	msg, err := d.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s in %s: %w", messageID, channelID, err)
	}
	m := d.toMessage(msg)
	return &m, nil
}

// ChannelMessages returns newest-first history; limit <= 0 pages through the
// whole channel 100 messages at a time.
func (d *Discord) ChannelMessages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	var out []Message
	before := ""
	for {
		page := 100
		if limit > 0 && limit-len(out) < page {
			page = limit - len(out)
		}
		if page <= 0 {
			break
		}
		msgs, err := d.s.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", channelID, err)
		}
		for _, msg := range msgs {
			out = append(out, d.toMessage(msg))
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return out, nil
}

// ThreadMessages returns a thread's history (threads are channels remotely).
func (d *Discord) ThreadMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	return d.ChannelMessages(ctx, threadID, limit)
}

// ActiveThreads lists the guild's active threads scoped to one forum.
func (d *Discord) ActiveThreads(ctx context.Context, forumID string) ([]Thread, error) {
	list, err := d.s.GuildThreadsActive(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list active threads: %w", err)
	}
	var out []Thread
	for _, ch := range list.Threads {
		if ch.ParentID == forumID {
			out = append(out, d.toThread(ch))
		}
	}
	return out, nil
}

// ArchivedThreads lists a forum's public archived threads.
func (d *Discord) ArchivedThreads(ctx context.Context, forumID string) ([]Thread, error) {
	var out []Thread
	var before *time.Time
	for {
		list, err := d.s.ThreadsArchived(forumID, before, 100, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list archived threads of %s: %w", forumID, err)
		}
		for _, ch := range list.Threads {
			out = append(out, d.toThread(ch))
		}
		if !list.HasMore || len(list.Threads) == 0 {
			break
		}
		last := list.Threads[len(list.Threads)-1]
		if last.ThreadMetadata == nil {
			break
		}
		ts := last.ThreadMetadata.ArchiveTimestamp
		before = &ts
	}
	return out, nil
}

// SetWatchingStatus publishes a "Watching <name>" presence.
func (d *Discord) SetWatchingStatus(name string) error {
	return d.s.UpdateWatchStatus(0, name)
}

// IsNotFound reports whether err is a remote not-found. A delete against an
// already-gone message is treated as success by the relays.
func IsNotFound(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode == http.StatusNotFound
	}
	var nf interface{ NotFound() bool }
	return errors.As(err, &nf) && nf.NotFound()
}

func (d *Discord) toMessage(m *discordgo.Message) Message {
	out := Message{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		Content:      m.Content,
		RoleMentions: m.MentionRoles,
		Pinned:       m.Pinned,
		CreatedAt:    m.Timestamp,
		JumpURL:      fmt.Sprintf("https://discord.com/channels/%s/%s/%s", d.guildID, m.ChannelID, m.ID),
	}
	if m.EditedTimestamp != nil {
		out.EditedAt = *m.EditedTimestamp
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			out.AuthorName = m.Author.GlobalName
		}
		out.AuthorAvatarURL = m.Author.AvatarURL("")
	}
	for _, a := range m.Attachments {
		out.AttachmentURLs = append(out.AttachmentURLs, a.URL)
	}
	if len(m.Embeds) > 0 && m.Embeds[0].Footer != nil {
		out.EmbedFooter = m.Embeds[0].Footer.Text
	}
	if ch := d.channel(m.ChannelID); ch != nil {
		out.ChannelName = ch.Name
		out.ParentID = ch.ParentID
	}
	return out
}

func (d *Discord) toThread(ch *discordgo.Channel) Thread {
	t := Thread{
		ID:           ch.ID,
		Name:         ch.Name,
		ParentID:     ch.ParentID,
		OwnerID:      ch.OwnerID,
		MemberCount:  ch.MemberCount,
		MessageCount: ch.MessageCount,
		JumpURL:      fmt.Sprintf("https://discord.com/channels/%s/%s", d.guildID, ch.ID),
	}
	if ch.ThreadMetadata != nil {
		t.Locked = ch.ThreadMetadata.Locked
		t.Archived = ch.ThreadMetadata.Archived
	}
	if parent := d.channel(ch.ParentID); parent != nil {
		t.ParentName = parent.Name
	}
	// Thread id is a snowflake; its creation time is embedded in it, but the
	// gateway also tells us directly for newly created threads.
	if ts, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		t.CreatedAt = ts
	}
	if owner, err := d.s.User(ch.OwnerID); err == nil {
		t.OwnerName = owner.Username
		if owner.GlobalName != "" {
			t.OwnerName = owner.GlobalName
		}
		t.OwnerAvatarURL = owner.AvatarURL("")
	}
	return t
}

func (d *Discord) channel(id string) *discordgo.Channel {
	if id == "" {
		return nil
	}
	if ch, err := d.s.State.Channel(id); err == nil {
		return ch
	}
	ch, err := d.s.Channel(id)
	if err != nil {
		return nil
	}
	return ch
}

func toDiscordEmbed(e *Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIconURL}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return out
}
