// Package notify delivers alert and report messages over pluggable channels.
package notify

import (
	"context"
	"log/slog"
	"sort"

	"visitlens/internal/metrics"
)

// Delivery statuses recorded per channel.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Channel names
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelLog     = "log"
)

// Message is a channel-agnostic notification.
type Message struct {
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Recipients []string       `json:"-"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Channel sends a message through one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Registry routes messages to channels by name.
type Registry struct {
	channels map[string]Channel
	logger   *slog.Logger
}

// NewRegistry registers the given channels; nil entries are skipped.
func NewRegistry(logger *slog.Logger, channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel), logger: logger}
	for _, ch := range channels {
		if ch != nil {
			r.channels[ch.Name()] = ch
		}
	}
	return r
}

// Get returns the named channel.
func (r *Registry) Get(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Names lists registered channels.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch sends msg to every named channel independently. A failing or
// unknown channel is recorded as failed and does not affect the others.
func (r *Registry) Dispatch(ctx context.Context, names []string, msg Message) map[string]string {
	statuses := make(map[string]string, len(names))
	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			r.logger.Warn("Notification channel not configured", slog.String("channel", name))
			statuses[name] = StatusFailed
			metrics.Notifications.WithLabelValues(name, StatusFailed).Inc()
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			r.logger.Error("Notification delivery failed",
				slog.String("channel", name),
				slog.Any("error", err))
			statuses[name] = StatusFailed
			metrics.Notifications.WithLabelValues(name, StatusFailed).Inc()
			continue
		}
		statuses[name] = StatusSent
		metrics.Notifications.WithLabelValues(name, StatusSent).Inc()
	}
	return statuses
}
