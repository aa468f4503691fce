// Package realtime pushes live notification events to connected recipients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/models"
)

// Event names emitted on a recipient's channel.
const (
	EventNewNotification      = "new-notification"
	EventNotificationRead     = "notification-read"
	EventAllNotificationsRead = "all-notifications-read"
	EventPing                 = "ping"
	EventReady                = "ready"
)

// NewNotificationPayload accompanies EventNewNotification.
type NewNotificationPayload struct {
	Notification *models.Notification `json:"notification"`
	UnreadCount  int64                `json:"unreadCount"`
}

// ReadPayload accompanies EventNotificationRead and EventAllNotificationsRead.
type ReadPayload struct {
	NotificationID string `json:"notificationId,omitempty"`
	UnreadCount    int64  `json:"unreadCount"`
}

// Message is the envelope carried over the broker.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Channel returns the private channel name of a recipient.
func Channel(to models.Actor) string {
	return fmt.Sprintf("realtime:%s:%s", to.Kind, to.ID)
}

// Hub publishes to and subscribes on per-recipient channels. Build one per process and inject it.
type Hub struct {
	broker Broker
	logger logger.Logger
}

func NewHub(broker Broker, log logger.Logger) *Hub {
	return &Hub{
		broker: broker,
		logger: log.WithFields(map[string]interface{}{"component": "realtime"}),
	}
}

// Publish sends one event to the recipient's channel. Delivery is best-effort.
func (h *Hub) Publish(ctx context.Context, to models.Actor, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		metrics.RealtimePushes.WithLabelValues(event, "encode_error").Inc()
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	payload, err := json.Marshal(Message{Event: event, Data: raw})
	if err != nil {
		metrics.RealtimePushes.WithLabelValues(event, "encode_error").Inc()
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}

	if err := h.broker.Publish(ctx, Channel(to), payload); err != nil {
		metrics.RealtimePushes.WithLabelValues(event, "error").Inc()
		return err
	}
	metrics.RealtimePushes.WithLabelValues(event, "ok").Inc()
	return nil
}

// Subscription receives decoded messages until Close.
type Subscription struct {
	C      <-chan Message
	stream Stream
	done   chan struct{}
	once   sync.Once
}

// Subscribe joins the recipient's channel.
func (h *Hub) Subscribe(ctx context.Context, to models.Actor) (*Subscription, error) {
	stream, err := h.broker.Subscribe(ctx, Channel(to))
	if err != nil {
		return nil, err
	}

	out := make(chan Message, 16)
	sub := &Subscription{C: out, stream: stream, done: make(chan struct{})}
	go func() {
		defer close(out)
		for payload := range stream.Payloads() {
			var msg Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				h.logger.Warn("Dropping undecodable realtime payload", map[string]interface{}{
					"channel": Channel(to),
					"error":   err.Error(),
				})
				continue
			}
			select {
			case out <- msg:
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

// Close leaves the channel. C is closed once pending messages drain.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.stream.Close()
}
