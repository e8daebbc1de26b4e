package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/virtualbank/backend/pkg/observability"
)

// Store is the persistence boundary the consumer depends on.
type Store interface {
	Save(ctx context.Context, n *Notification) (*Notification, error)
	CountUnreadByUser(ctx context.Context, userID string) (int64, error)
}

// Pusher is the live delivery boundary the consumer depends on.
type Pusher interface {
	Push(userID string, n *Notification)
	PushUnreadCount(userID string, count int64)
}

// EmailEnqueuer hands email work to a background pool without blocking.
type EmailEnqueuer interface {
	EnqueueNotification(to string, n *Notification)
	EnqueueSimple(to, subject, body string)
}

// Consumer processes notification events off the log. Persistence is the
// durability boundary: only a persistence failure withholds the offset
// commit and forces redelivery. Push and email are best-effort
// amplifications of an already-durable fact and never fail processing.
type Consumer struct {
	store     Store
	registry  Pusher
	directory Directory
	emails    EmailEnqueuer
	mailer    Mailer
	cache     *UnreadCache
	log       *observability.Logger
}

func NewConsumer(store Store, registry Pusher, directory Directory, emails EmailEnqueuer, mailer Mailer, cache *UnreadCache, log *observability.Logger) *Consumer {
	return &Consumer{
		store:     store,
		registry:  registry,
		directory: directory,
		emails:    emails,
		mailer:    mailer,
		cache:     cache,
		log:       log.Named("consumer"),
	}
}

// HandleNotification processes one notification event. Returning an
// error withholds the commit so the log redelivers the event.
func (c *Consumer) HandleNotification(ctx context.Context, key string, value []byte) error {
	var n Notification
	if err := json.Unmarshal(value, &n); err != nil {
		// An unparseable payload would be redelivered forever; commit it
		// and record the data-quality failure instead.
		consumerEvents.WithLabelValues(statusMalformed).Inc()
		c.log.Error("malformed notification event, committing without processing", "key", key, "error", err)
		return nil
	}

	saved, err := c.store.Save(ctx, &n)
	if err != nil {
		consumerEvents.WithLabelValues(statusFailed).Inc()
		c.log.Error("failed to persist notification, event will be redelivered",
			"userId", n.UserID, "type", n.Type, "error", err)
		return fmt.Errorf("persist notification: %w", err)
	}
	c.cache.Invalidate(ctx, saved.UserID)
	c.log.Debug("notification persisted", "id", saved.ID, "userId", saved.UserID)

	c.pushToUser(ctx, saved)
	c.sendEmail(ctx, saved)

	consumerEvents.WithLabelValues(statusProcessed).Inc()
	c.log.Info("notification processed", "id", saved.ID, "userId", saved.UserID, "type", saved.Type)
	return nil
}

func (c *Consumer) pushToUser(ctx context.Context, n *Notification) {
	c.registry.Push(n.UserID, n)

	count, err := c.store.CountUnreadByUser(ctx, n.UserID)
	if err != nil {
		c.log.Warn("failed to recompute unread count", "userId", n.UserID, "error", err)
		return
	}
	c.cache.Set(ctx, n.UserID, count)
	c.registry.PushUnreadCount(n.UserID, count)
}

func (c *Consumer) sendEmail(ctx context.Context, n *Notification) {
	if !n.Channel.WantsEmail() {
		return
	}

	addr, err := c.directory.EmailByUser(ctx, n.UserID)
	if err != nil {
		c.log.Warn("no email address for notification recipient", "userId", n.UserID, "error", err)
		return
	}
	c.emails.EnqueueNotification(addr, n)
}

// HandleEmailTask processes one email task with the fixed payload
// "<notificationId>|<email>|<subject>|<content>". A malformed payload is
// committed immediately so it cannot become a poison pill; a transport
// failure withholds the commit for redelivery.
func (c *Consumer) HandleEmailTask(ctx context.Context, key string, value []byte) error {
	parts := strings.SplitN(string(value), "|", 4)
	if len(parts) != 4 {
		emailTaskEvents.WithLabelValues(statusMalformed).Inc()
		c.log.Error("malformed email task payload, committing without processing", "payload", string(value))
		return nil
	}

	notificationID, addr, subject, content := parts[0], parts[1], parts[2], parts[3]
	if err := c.mailer.SendSimpleEmail(ctx, addr, subject, content); err != nil {
		emailTaskEvents.WithLabelValues(statusFailed).Inc()
		c.log.Error("failed to send email task, event will be redelivered",
			"notificationId", notificationID, "to", addr, "error", err)
		return fmt.Errorf("send email task: %w", err)
	}

	emailTaskEvents.WithLabelValues(statusProcessed).Inc()
	c.log.Info("email task processed", "notificationId", notificationID, "to", addr)
	return nil
}
