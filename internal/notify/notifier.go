// Package notify delivers operator alerts to Telegram and Discord. Alerts
// are tagged with an event name and filtered against the configured set.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event names raised by the arena.
const (
	EventBackoff        = "backoff"
	EventOrderError     = "order_error"
	EventReconcileError = "reconcile_error"
	EventStartup        = "startup"
)

// DefaultEvents is used when notify.events is empty in config.
var DefaultEvents = []string{EventBackoff, EventOrderError, EventReconcileError}

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	prefix  string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
// prefix, when set, is prepended to titles as "[prefix] ".
func NewNotifier(senders []Sender, events []string, prefix string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify delivers the alert when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if n.prefix != "" {
		title = fmt.Sprintf("[%s] %s", n.prefix, title)
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	return errors.Join(errs...)
}
