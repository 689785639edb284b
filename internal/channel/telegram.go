package channel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/logctx"
)

// TelegramMaxMessageChars is Telegram's hard per-message text limit.
const TelegramMaxMessageChars = 4096

// TelegramChannel is a long-polling Telegram Bot API adapter. Grounded on
// vanducng-goclaw's internal/channels/telegram.Channel: same long-poll
// lifecycle and tu.Message/SendChatAction calls, narrowed to this
// runtime's single-tenant-per-chat model (no forum-topic or
// pairing-service plumbing, which this spec's Thread model doesn't need).
type TelegramChannel struct {
	bot        *telego.Bot
	dispatcher *Dispatcher

	maxMessageChars int
	running         bool
	pollCancel      context.CancelFunc
	pollDone        chan struct{}
}

// NewTelegramChannel builds a TelegramChannel from a bot token.
func NewTelegramChannel(token string, maxMessageChars int, dispatcher *Dispatcher) (*TelegramChannel, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if maxMessageChars <= 0 {
		maxMessageChars = TelegramMaxMessageChars
	}
	return &TelegramChannel{bot: bot, dispatcher: dispatcher, maxMessageChars: maxMessageChars}, nil
}

func (c *TelegramChannel) Name() string          { return "telegram" }
func (c *TelegramChannel) IsRunning() bool        { return c.running }
func (c *TelegramChannel) MaxMessageLength() int  { return c.maxMessageChars }

func (c *TelegramChannel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.running = true
	log := logctx.From(ctx)
	log.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleUpdate(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.running = false
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, msg *telego.Message) {
	if msg.Text == "" {
		return
	}

	chatType := "direct"
	if msg.Chat.Type != "private" {
		chatType = "group"
	}

	envelope := domain.Message{
		Content:        msg.Text,
		UserID:         strconv.FormatInt(msg.From.ID, 10),
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:      strconv.Itoa(msg.MessageID),
		Role:           "user",
		CreatedAt:      time.Unix(int64(msg.Date), 0),
		Metadata: domain.Metadata{
			Channel:  c.Name(),
			Username: msg.From.Username,
			ChatType: chatType,
		},
	}

	if err := c.dispatcher.HandleInbound(ctx, c, envelope); err != nil {
		logctx.From(ctx).Error("telegram dispatch failed", "error", err)
	}
}

// Send translates content to Telegram's markdown dialect via
// TranslateMarkdown and delivers it to chatID (conversationID); Split has
// already been applied by Dispatcher.sendFormatted.
func (c *TelegramChannel) Send(ctx context.Context, conversationID, content string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", conversationID, err)
	}
	translated := TranslateMarkdown(content, telegramMarkdownRules)
	_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), translated))
	return err
}

// SendTyping implements ActivityIndicator.
func (c *TelegramChannel) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return err
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}
