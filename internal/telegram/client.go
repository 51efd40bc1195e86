// Package telegram sends rendered chat lines to Telegram chats. Destination
// ids from track rules map to chat ids via configuration.
package telegram

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers one rendered line to a named destination.
type Sender interface {
	SendToDestination(destinationID, text string) error
}

type Client struct {
	bot          *tgbotapi.BotAPI
	destinations map[string]int64
	log          *slog.Logger
}

// New authenticates the bot and resolves the destination map. destinations
// maps rule destination ids to Telegram chat ids.
func New(token string, destinations map[string]int64, log *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("telegram bot authorized", "account", bot.Self.UserName, "destinations", len(destinations))
	return &Client{bot: bot, destinations: destinations, log: log}, nil
}

// SendToDestination delivers text to the chat mapped to destinationID,
// splitting lines that exceed the platform message limit.
func (c *Client) SendToDestination(destinationID, text string) error {
	chatID, ok := c.destinations[destinationID]
	if !ok {
		return fmt.Errorf("unknown destination %q", destinationID)
	}
	for _, part := range SplitMessage(text) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to %q: %w", destinationID, err)
		}
	}
	return nil
}

// Destinations lists the configured destination ids.
func (c *Client) Destinations() []string {
	out := make([]string, 0, len(c.destinations))
	for id := range c.destinations {
		out = append(out, id)
	}
	return out
}
