package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/mymmrac/telego"

	"guildwarden/internal/config"
	"guildwarden/internal/logger"
	"guildwarden/internal/metrics"
)

// messageSender is the part of *telego.Bot the relay uses.
type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Telegram posts events to a staff chat.
type Telegram struct {
	bot    messageSender
	chatID int64
}

// NewTelegram creates the bot client and checks the token.
func NewTelegram(ctx context.Context, cfg config.TelegramConfig) (*Telegram, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	botUser, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get telegram bot info: %w", err)
	}
	logger.Infof("Mod-log relay authorized on Telegram account %s", botUser.Username)

	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *Telegram) Notify(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: t.chatID},
		Text:      FormatHTML(event),
		ParseMode: telego.ModeHTML,
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("send mod-log message: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}

// FormatHTML renders an event as a Telegram HTML message.
func FormatHTML(e Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s</b> · guild <code>%s</code>\n", strings.ToUpper(string(e.Kind)), e.GuildID)
	fmt.Fprintf(&b, "Target: %s (<code>%s</code>)\n", html.EscapeString(e.TargetName), e.TargetID)
	if e.Automatic {
		b.WriteString("By: automatic reversal\n")
	} else {
		fmt.Fprintf(&b, "By: <code>%s</code>\n", e.ModeratorID)
	}
	if e.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", durafmt.Parse(e.Duration).LimitFirstN(2).String())
	}
	fmt.Fprintf(&b, "Reason: %s", html.EscapeString(e.Reason))
	if e.Detail != "" {
		fmt.Fprintf(&b, "\n%s", html.EscapeString(e.Detail))
	}
	return b.String()
}
