// Package notify pushes position lifecycle alerts to operator channels
// (Telegram, Discord). Delivery failures are logged, never propagated into
// trading logic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event identifies a position lifecycle alert type, used for filtering.
type Event string

const (
	EventWatching     Event = "watching"
	EventEntered      Event = "entered"
	EventStageHit     Event = "stage_hit"
	EventTrailingStop Event = "trailing_stop"
	EventStopLoss     Event = "stop_loss"
	EventClosed       Event = "closed"
	EventExpired      Event = "expired"
)

// Sender delivers one alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every configured sender. An allow-list of
// events can be configured; when it is empty every event passes.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	logger  *slog.Logger
}

// New creates a Notifier. events limits delivery to the listed event types;
// pass nil to receive everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the alert to all senders if the event type is allowed.
// Individual sender failures are joined but do not block the others.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
