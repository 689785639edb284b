package channel

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/logctx"
)

// DiscordMaxMessageChars is Discord's hard per-message text limit.
const DiscordMaxMessageChars = 2000

// DiscordChannel is a gateway-event Discord Bot API adapter. Grounded on
// vanducng-goclaw's internal/channels/discord.Channel (session lifecycle,
// AddHandler/Open/Close, ChannelMessageSend/ChannelTyping), narrowed to
// this runtime's plain Dispatcher hand-off instead of a message bus.
type DiscordChannel struct {
	session    *discordgo.Session
	dispatcher *Dispatcher
	botUserID  string
	running    bool
}

// NewDiscordChannel builds a DiscordChannel from a bot token.
func NewDiscordChannel(token string, dispatcher *Dispatcher) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &DiscordChannel{session: session, dispatcher: dispatcher}
	session.AddHandler(c.handleMessage)
	return c, nil
}

func (c *DiscordChannel) Name() string         { return "discord" }
func (c *DiscordChannel) IsRunning() bool       { return c.running }
func (c *DiscordChannel) MaxMessageLength() int { return DiscordMaxMessageChars }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.running = true
	logctx.From(ctx).Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.running = false
	return c.session.Close()
}

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	chatType := "direct"
	if m.GuildID != "" {
		chatType = "group"
	}

	envelope := domain.Message{
		Content:        m.Content,
		UserID:         m.Author.ID,
		ConversationID: m.ChannelID,
		MessageID:      m.ID,
		Role:           "user",
		CreatedAt:      m.Timestamp,
		Metadata: domain.Metadata{
			Channel:  c.Name(),
			Username: m.Author.Username,
			ChatType: chatType,
		},
	}

	ctx := context.Background()
	if err := c.dispatcher.HandleInbound(ctx, c, envelope); err != nil {
		logctx.From(ctx).Error("discord dispatch failed", "error", err)
	}
}

// Send delivers content as-is to channelID (conversationID); Split has
// already been applied by Dispatcher.sendFormatted. Discord's
// markdown dialect matches the model's CommonMark output closely enough
// that no translation rules are applied.
func (c *DiscordChannel) Send(ctx context.Context, conversationID, content string) error {
	_, err := c.session.ChannelMessageSend(conversationID, content)
	return err
}

// SendTyping implements ActivityIndicator.
func (c *DiscordChannel) SendTyping(ctx context.Context, conversationID string) error {
	return c.session.ChannelTyping(conversationID)
}
