package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const timeLayout = "Mon, Jan 2 2006 15:04 MST"

// Telegram posts notices to the admin chat.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger, opts ...bot.Option) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram admin chat id is empty")
	}

	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Telegram{bot: b, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) BookingRequested(ctx context.Context, n Notice) error {
	var sb strings.Builder
	sb.WriteString("📅 <b>New booking request</b>\n\n")
	writeDetails(&sb, n)
	sb.WriteString("\nConfirm or cancel it in the admin panel.")
	return t.send(ctx, "booking requested", sb.String())
}

func (t *Telegram) FollowUpNeeded(ctx context.Context, n Notice) error {
	var sb strings.Builder
	sb.WriteString("⚠️ <b>Booking needs follow-up</b>\n\n")
	writeDetails(&sb, n)
	if n.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", html.EscapeString(n.Reason))
	}
	return t.send(ctx, "follow-up needed", sb.String())
}

func (t *Telegram) LessonReminder(ctx context.Context, n Notice) error {
	var sb strings.Builder
	sb.WriteString("⏰ <b>Lesson tomorrow</b>\n\n")
	writeDetails(&sb, n)
	if n.VideoLink != "" {
		fmt.Fprintf(&sb, "Join: %s\n", html.EscapeString(n.VideoLink))
	}
	return t.send(ctx, "lesson reminder", sb.String())
}

func (t *Telegram) send(ctx context.Context, kind, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		t.logger.Error("Failed to send telegram notice",
			zap.String("kind", kind),
			zap.Error(err),
		)
		return fmt.Errorf("send %s notice: %w", kind, err)
	}
	return nil
}

func writeDetails(sb *strings.Builder, n Notice) {
	fmt.Fprintf(sb, "Student: %s\n", html.EscapeString(n.StudentName))
	fmt.Fprintf(sb, "Lesson: %s\n", html.EscapeString(n.Lesson))
	fmt.Fprintf(sb, "When: %s\n", n.ScheduledAt.Format(timeLayout))
	fmt.Fprintf(sb, "Booking: <code>%s</code>\n", html.EscapeString(n.BookingID))
}
