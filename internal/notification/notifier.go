// Package notification delivers RSI zone alerts to external channels
// (log, Telegram, generic webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptoscope/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	ID        string     `json:"id"`
	Level     AlertLevel `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	RSI       float64    `json:"rsi"`
	Kind      string     `json:"kind"`
	At        time.Time  `json:"at"`
}

// FromEvent renders an edge event as an alert.
func FromEvent(ev model.AlertEvent) Alert {
	zone := "Overbought"
	level := AlertWarning
	if ev.Kind == model.StatusOversold {
		zone = "Oversold"
		level = AlertInfo
	}
	return Alert{
		ID:        ev.ID,
		Level:     level,
		Title:     fmt.Sprintf("%s %s %s", ev.Symbol, ev.Timeframe, zone),
		Message:   fmt.Sprintf("RSI %.2f entered the %s zone", ev.RSI, ev.Kind),
		Symbol:    ev.Symbol,
		Timeframe: ev.Timeframe,
		RSI:       ev.RSI,
		Kind:      string(ev.Kind),
		At:        ev.At,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, "alert",
		"level", alert.Level,
		"title", alert.Title,
		"symbol", alert.Symbol,
		"timeframe", alert.Timeframe,
		"rsi", alert.RSI,
		"id", alert.ID,
	)
	return nil
}

// Multi fans an alert out to every notifier. A failing backend does not stop
// the others; all failures are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
