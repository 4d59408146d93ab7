// Package notify delivers price alerts to log, chat and message-bus sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Format renders an alert as a short human readable message.
func Format(alert tracker.Alert) string {
	title := strings.TrimSpace(alert.Title)
	if title == "" {
		title = alert.SourceURL
	}
	currency := alert.Currency
	if currency != "" {
		currency = " " + currency
	}
	return fmt.Sprintf(
		"Price alert: %s\nNow %.2f%s (alarm at %.2f)\n%s",
		title, alert.Price, currency, alert.Threshold, alert.SourceURL,
	)
}

// Log writes alerts to a zap logger. It is the default when no external sink is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify logs the alert.
func (l *Log) Notify(_ context.Context, alert tracker.Alert) error {
	l.logger.Info("price alert",
		zap.String("item_id", alert.ItemID),
		zap.String("url", alert.SourceURL),
		zap.String("title", alert.Title),
		zap.Float64("price", alert.Price),
		zap.Float64("threshold", alert.Threshold),
		zap.String("currency", alert.Currency),
		zap.Time("triggered_at", alert.TriggeredAt),
	)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []tracker.Notifier

// Notify delivers to all members even when some fail.
func (m Multi) Notify(ctx context.Context, alert tracker.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
