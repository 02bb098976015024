package notifier

import (
	"context"
	"time"
)

const (
	TypeBasic   = "basic"
	DefaultIcon = "icons/icon-48.png"
)

// Notification mirrors the extension notification options.
type Notification struct {
	Type    string `json:"type"`
	IconURL string `json:"iconUrl"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Sink delivers a notification somewhere the user will see it.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At      time.Time    `json:"at"`
	Sink    string       `json:"sink"`
	Payload Notification `json:"payload"`
	Error   string       `json:"error,omitempty"`
}
