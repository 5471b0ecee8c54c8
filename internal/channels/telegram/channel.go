// Package telegram implements a channel adapter that turns Telegram
// messages into bus.InboundMessage turns and delivers bus.OutboundMessage
// replies back to the originating chat. Grounded on the teacher's
// internal/channels/telegram/channel.go (telego long-polling bot shape),
// trimmed of the teacher's managed-mode features (pairing, group file
// writers, per-message streaming previews, reactions, forum-topic
// routing) which have no SPEC_FULL.md counterpart — this runtime has one
// workspace and one implicit owner, not a multi-tenant pairing flow.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/neomagi/neomagi/internal/bus"
	"github.com/neomagi/neomagi/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	bot        *telego.Bot
	config     config.TelegramConfig
	router     *bus.Router
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from cfg, wired to router for inbound
// turns and outbound replies.
func New(cfg config.TelegramConfig, router *bus.Router) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{bot: bot, config: cfg, router: router}, nil
}

// Start begins long polling for Telegram updates and a goroutine that
// delivers outbound replies back to their originating chat.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram bot connected", "username", c.bot.Username())

	go c.pumpOutbound(pollCtx)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if msg.Text == "" {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	c.router.PublishInbound(bus.InboundMessage{
		Channel:   "telegram",
		SessionID: "telegram:" + chatID,
		ChatID:    chatID,
		Content:   msg.Text,
	})
}

func (c *Channel) pumpOutbound(ctx context.Context) {
	for {
		out, ok := c.router.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if out.Channel != "telegram" {
			c.router.PublishOutbound(out)
			continue
		}
		chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
		if err != nil {
			slog.Warn("telegram_invalid_chat_id", "chat_id", out.ChatID, "error", err)
			continue
		}
		if _, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   out.Content,
		}); err != nil {
			slog.Warn("telegram_send_failed", "chat_id", out.ChatID, "error", err)
		}
	}
}

// Stop shuts down the Telegram bot's long-polling loop.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}
