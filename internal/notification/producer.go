package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/virtualbank/backend/pkg/observability"
)

// Log topics. Notification events carry the full Notification JSON keyed
// by user id; email tasks carry a pipe-delimited payload keyed by address.
const (
	TopicNotifications = "notification-events"
	TopicEmailTasks    = "email-events"

	NotificationPartitions = 3
	EmailTaskPartitions    = 2
)

// LogWriter is the transport side of a single topic.
type LogWriter interface {
	Publish(ctx context.Context, key string, value []byte) error
	PublishAsync(key string, value []byte) <-chan error
}

// Producer publishes notification events and email tasks to the log.
// It assumes its input is already validated and never retries itself;
// transport-level retries belong to the log client.
type Producer struct {
	notifications LogWriter
	emailTasks    LogWriter
	log           *observability.Logger
}

func NewProducer(notifications, emailTasks LogWriter, log *observability.Logger) *Producer {
	return &Producer{
		notifications: notifications,
		emailTasks:    emailTasks,
		log:           log.Named("producer"),
	}
}

// Publish sends a notification event and waits for the broker ack.
func (p *Producer) Publish(ctx context.Context, n *Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		producerPublishes.WithLabelValues(statusFailed).Inc()
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := p.notifications.Publish(ctx, n.UserID, value); err != nil {
		producerPublishes.WithLabelValues(statusFailed).Inc()
		p.log.Error("failed to publish notification", "userId", n.UserID, "type", n.Type, "error", err)
		return err
	}

	producerPublishes.WithLabelValues(statusSent).Inc()
	p.log.Debug("notification published", "userId", n.UserID, "type", n.Type)
	return nil
}

// PublishAsync sends a notification event without blocking the caller.
// The returned channel resolves with the outcome and may be ignored.
func (p *Producer) PublishAsync(n *Notification) <-chan error {
	result := make(chan error, 1)

	value, err := json.Marshal(n)
	if err != nil {
		producerPublishes.WithLabelValues(statusFailed).Inc()
		result <- fmt.Errorf("failed to encode notification: %w", err)
		return result
	}

	inner := p.notifications.PublishAsync(n.UserID, value)
	go func() {
		err := <-inner
		if err != nil {
			producerPublishes.WithLabelValues(statusFailed).Inc()
			p.log.Error("failed to publish notification", "userId", n.UserID, "type", n.Type, "error", err)
		} else {
			producerPublishes.WithLabelValues(statusSent).Inc()
		}
		result <- err
	}()
	return result
}

// PublishEmailTask sends a raw email task on the email topic, keyed by
// address so email volume scales independently of in-app push.
// Payload format: "<notificationId>|<email>|<subject>|<content>".
func (p *Producer) PublishEmailTask(ctx context.Context, notificationID, email, subject, content string) error {
	payload := fmt.Sprintf("%s|%s|%s|%s", notificationID, email, subject, content)

	if err := p.emailTasks.Publish(ctx, email, []byte(payload)); err != nil {
		emailTaskPublishes.WithLabelValues(statusFailed).Inc()
		p.log.Error("failed to publish email task", "email", email, "error", err)
		return err
	}

	emailTaskPublishes.WithLabelValues(statusSent).Inc()
	p.log.Debug("email task published", "email", email, "subject", subject)
	return nil
}
