package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"timez/internal/eventbus"
	logx "timez/pkg/logx"
)

// LogSink writes notifications to the daemon log.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(ctx context.Context, n Notification) error {
	_ = ctx
	s.Log.Info("notification", logx.String("title", n.Title), logx.String("message", n.Message), logx.String("icon", n.IconURL))
	return nil
}

// Publisher is the sending half of the event bus.
type Publisher interface {
	Publish(e eventbus.Event) error
}

// ClientSink hands notifications to connected popup clients, which show them
// with the browser notification API. With no client connected the
// notification is dropped; that is not a delivery failure.
type ClientSink struct {
	Bus Publisher
}

func (ClientSink) Name() string { return "client" }

func (s ClientSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.Bus.Publish(eventbus.Event{Type: eventbus.TypeNotification, Notification: n})
	if errors.Is(err, eventbus.ErrNoSubscribers) {
		return nil
	}
	return err
}

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic; 0 posts to the main chat.
	ThreadID int
}

// TelegramSink posts notifications to a Telegram chat.
type TelegramSink struct {
	bot    *tele.Bot
	chat   tele.ChatID
	thread int
}

// NewTelegramSink builds an offline bot client: no polling, send-only.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chat: tele.ChatID(cfg.ChatID), thread: cfg.ThreadID}, nil
}

func (*TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: s.thread}
	if _, err := s.bot.Send(s.chat, FormatText(n), opts); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatText renders a notification for text-only channels.
func FormatText(n Notification) string {
	title := strings.TrimSpace(n.Title)
	msg := strings.TrimSpace(n.Message)
	switch {
	case title == "":
		return msg
	case msg == "":
		return title
	default:
		return title + ": " + msg
	}
}
