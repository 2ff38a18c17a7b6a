package alert

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/infra/metrics"
)

// messageLimit is Telegram's hard cap on message length.
const messageLimit = 4096

// TelegramNotifier sends plain-text alerts to the ops chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier creates the notifier from a bot token and chat id.
func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

// Notify delivers the text, splitting it to respect the message limit.
func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	for _, part := range splitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			metrics.AlertsSent.WithLabelValues("error").Inc()
			return err
		}
	}
	metrics.AlertsSent.WithLabelValues("success").Inc()
	return nil
}

// splitMessage breaks the text into chunks below the Telegram limit,
// preferring newline boundaries so formatted blocks stay intact.
func splitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}
	var parts []string
	for start := 0; start < len(runes); {
		end := start + messageLimit
		if end >= len(runes) {
			chunk := strings.Trim(string(runes[start:]), "\n")
			if chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}
		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}
		chunk := strings.Trim(string(runes[start:split]), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}
