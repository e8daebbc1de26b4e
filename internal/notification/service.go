package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/virtualbank/backend/pkg/observability"
)

// ErrNotFound is returned when a notification does not exist or belongs
// to another user.
var ErrNotFound = errors.New("notification not found")

// Storage is the full repository surface the service depends on.
type Storage interface {
	Store
	Update(ctx context.Context, n *Notification) (*Notification, error)
	FindByIDAndUser(ctx context.Context, id, userID string) (*Notification, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error)
	FindUnreadByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error)
	DeleteOldRead(ctx context.Context, userID string, before time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// Publisher is the producer surface the service depends on.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
	PublishAsync(n *Notification) <-chan error
}

// Service orchestrates notification use cases for the front-ends:
// synchronous creation, asynchronous fan-out through the log, queries,
// and read-state transitions.
type Service struct {
	store    Storage
	producer Publisher
	cache    *UnreadCache
	log      *observability.Logger
}

func NewService(store Storage, producer Publisher, cache *UnreadCache, log *observability.Logger) *Service {
	return &Service{
		store:    store,
		producer: producer,
		cache:    cache,
		log:      log.Named("service"),
	}
}

// Create validates and persists a notification synchronously, bypassing
// the log. Used by admin endpoints that need the stored form back.
func (s *Service) Create(ctx context.Context, userID string, typ Type, channel Channel, title, message string, priority Priority) (*Notification, error) {
	n, err := New(userID, typ, channel, title, message, priority)
	if err != nil {
		return nil, err
	}
	saved, err := s.store.Save(ctx, n)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, userID)
	s.log.Info("notification created", "id", saved.ID, "userId", userID, "type", typ)
	return saved, nil
}

// CreateAndPublish validates a notification and hands it to the log for
// asynchronous processing. The completion future is observed only for
// logging; callers do not wait.
func (s *Service) CreateAndPublish(ctx context.Context, userID string, typ Type, channel Channel, title, message string, priority Priority) error {
	n, err := New(userID, typ, channel, title, message, priority)
	if err != nil {
		return err
	}
	s.producer.PublishAsync(n)
	s.log.Info("notification queued for delivery", "userId", userID, "type", typ)
	return nil
}

// Get returns one notification scoped to its owner.
func (s *Service) Get(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := s.store.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotFound
	}
	return n, nil
}

// List returns a page of the user's notifications.
func (s *Service) List(ctx context.Context, userID string, page, size int) ([]*Notification, error) {
	limit, offset := pageBounds(page, size)
	return s.store.FindByUser(ctx, userID, limit, offset)
}

// ListUnread returns a page of the user's unread notifications.
func (s *Service) ListUnread(ctx context.Context, userID string, page, size int) ([]*Notification, error) {
	limit, offset := pageBounds(page, size)
	return s.store.FindUnreadByUser(ctx, userID, limit, offset)
}

// UnreadCount returns the user's unread total, served from the cache
// when possible.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if count, ok := s.cache.Get(ctx, userID); ok {
		return count, nil
	}
	count, err := s.store.CountUnreadByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ctx, userID, count)
	return count, nil
}

// MarkRead transitions a notification to read. Marking an already-read
// notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*Notification, error) {
	return s.transition(ctx, id, userID, (*Notification).MarkRead)
}

// MarkUnread transitions a notification back to unread.
func (s *Service) MarkUnread(ctx context.Context, id, userID string) (*Notification, error) {
	return s.transition(ctx, id, userID, (*Notification).MarkUnread)
}

func (s *Service) transition(ctx context.Context, id, userID string, fn func(*Notification) *Notification) (*Notification, error) {
	n, err := s.store.FindByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, ErrNotFound
	}

	next := fn(n)
	if next == n {
		return n, nil
	}
	updated, err := s.store.Update(ctx, next)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, userID)
	return updated, nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.cache.Invalidate(ctx, userID)
	s.log.Info("marked all notifications read", "userId", userID, "count", count)
	return count, nil
}

// Delete removes one notification scoped to its owner.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	deleted, err := s.store.DeleteByIDAndUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// DeleteAll removes every notification belonging to the user, e.g. on
// account closure.
func (s *Service) DeleteAll(ctx context.Context, userID string) error {
	if err := s.store.DeleteByUser(ctx, userID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)
	s.log.Info("deleted all notifications", "userId", userID)
	return nil
}

// DeleteOldRead removes read notifications older than the given number of days.
func (s *Service) DeleteOldRead(ctx context.Context, userID string, days int) (int64, error) {
	before := time.Now().UTC().AddDate(0, 0, -days)
	count, err := s.store.DeleteOldRead(ctx, userID, before)
	if err != nil {
		return 0, err
	}
	s.cache.Invalidate(ctx, userID)
	return count, nil
}

// NotifyWelcome queues the welcome notification for a new user.
func (s *Service) NotifyWelcome(ctx context.Context, userID, username string) error {
	return s.CreateAndPublish(ctx, userID,
		TypeAccountCreated, ChannelBoth,
		"Welcome to VirtualBank!",
		fmt.Sprintf("Hello %s! Welcome to VirtualBank. Your account has been created successfully.", username),
		PriorityMedium)
}

// NotifyTransaction queues a transaction outcome notification.
func (s *Service) NotifyTransaction(ctx context.Context, userID string, success bool, details string) error {
	typ, title, priority := TypeTransactionCompleted, "Transaction Completed", PriorityLow
	if !success {
		typ, title, priority = TypeTransactionFailed, "Transaction Failed", PriorityHigh
	}
	return s.CreateAndPublish(ctx, userID, typ, ChannelInApp, title, details, priority)
}

// NotifySecurityAlert queues an urgent security alert on both channels.
func (s *Service) NotifySecurityAlert(ctx context.Context, userID, message string) error {
	return s.CreateAndPublish(ctx, userID,
		TypeSecurityAlert, ChannelBoth, "Security Alert", message, PriorityUrgent)
}

func pageBounds(page, size int) (limit, offset int) {
	if size < 1 || size > 100 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	return size, page * size
}
