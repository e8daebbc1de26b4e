package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/virtualbank/backend/pkg/observability"
)

type mockStore struct {
	SaveFunc              func(ctx context.Context, n *Notification) (*Notification, error)
	CountUnreadByUserFunc func(ctx context.Context, userID string) (int64, error)
}

func (m *mockStore) Save(ctx context.Context, n *Notification) (*Notification, error) {
	if m.SaveFunc == nil {
		stored := *n
		stored.ID = "stored_1"
		return &stored, nil
	}
	return m.SaveFunc(ctx, n)
}

func (m *mockStore) CountUnreadByUser(ctx context.Context, userID string) (int64, error) {
	if m.CountUnreadByUserFunc == nil {
		return 1, nil
	}
	return m.CountUnreadByUserFunc(ctx, userID)
}

type mockPusher struct {
	pushed []*Notification
	counts []int64
}

func (m *mockPusher) Push(userID string, n *Notification) { m.pushed = append(m.pushed, n) }

func (m *mockPusher) PushUnreadCount(userID string, count int64) {
	m.counts = append(m.counts, count)
}

type mockDirectory struct {
	EmailByUserFunc func(ctx context.Context, userID string) (string, error)
}

func (m *mockDirectory) EmailByUser(ctx context.Context, userID string) (string, error) {
	if m.EmailByUserFunc == nil {
		return "user@example.com", nil
	}
	return m.EmailByUserFunc(ctx, userID)
}

type mockEnqueuer struct {
	notifications []string
	simple        []string
}

func (m *mockEnqueuer) EnqueueNotification(to string, n *Notification) {
	m.notifications = append(m.notifications, to)
}

func (m *mockEnqueuer) EnqueueSimple(to, subject, body string) {
	m.simple = append(m.simple, to)
}

type mockMailer struct {
	SendNotificationEmailFunc func(ctx context.Context, to string, n *Notification) error
	SendSimpleEmailFunc       func(ctx context.Context, to, subject, body string) error

	simpleSent []string
}

func (m *mockMailer) SendNotificationEmail(ctx context.Context, to string, n *Notification) error {
	if m.SendNotificationEmailFunc == nil {
		return nil
	}
	return m.SendNotificationEmailFunc(ctx, to, n)
}

func (m *mockMailer) SendSimpleEmail(ctx context.Context, to, subject, body string) error {
	m.simpleSent = append(m.simpleSent, to)
	if m.SendSimpleEmailFunc == nil {
		return nil
	}
	return m.SendSimpleEmailFunc(ctx, to, subject, body)
}

func testConsumer(store *mockStore, pusher *mockPusher, dir *mockDirectory, emails *mockEnqueuer, mailer *mockMailer) *Consumer {
	return NewConsumer(store, pusher, dir, emails, mailer,
		NewUnreadCache(nil), observability.NewLogger("test"))
}

func eventPayload(t *testing.T, n *Notification) []byte {
	t.Helper()
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("failed to encode notification: %v", err)
	}
	return data
}

func TestConsumer_HandleNotification(t *testing.T) {
	base := &Notification{
		UserID:    "user_1",
		Type:      TypeTransactionCompleted,
		Channel:   ChannelInApp,
		Title:     "Transaction Completed",
		Message:   "Your transfer cleared",
		Priority:  PriorityLow,
		CreatedAt: time.Now().UTC(),
	}

	t.Run("Persist Then Push", func(t *testing.T) {
		store := &mockStore{
			CountUnreadByUserFunc: func(ctx context.Context, userID string) (int64, error) {
				return 4, nil
			},
		}
		pusher := &mockPusher{}
		emails := &mockEnqueuer{}
		c := testConsumer(store, pusher, &mockDirectory{}, emails, &mockMailer{})

		if err := c.HandleNotification(context.Background(), base.UserID, eventPayload(t, base)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pusher.pushed) != 1 {
			t.Fatalf("expected 1 push, got %d", len(pusher.pushed))
		}
		if pusher.pushed[0].ID == "" {
			t.Error("the stored form, with its id, should be pushed")
		}
		if len(pusher.counts) != 1 || pusher.counts[0] != 4 {
			t.Errorf("expected an unread count push of 4, got %v", pusher.counts)
		}
		if len(emails.notifications) != 0 {
			t.Errorf("IN_APP notification should not enqueue email, got %d", len(emails.notifications))
		}
	})

	t.Run("Persist Failure Withholds Commit", func(t *testing.T) {
		store := &mockStore{
			SaveFunc: func(ctx context.Context, n *Notification) (*Notification, error) {
				return nil, errors.New("database is down")
			},
		}
		pusher := &mockPusher{}
		c := testConsumer(store, pusher, &mockDirectory{}, &mockEnqueuer{}, &mockMailer{})

		if err := c.HandleNotification(context.Background(), base.UserID, eventPayload(t, base)); err == nil {
			t.Fatal("a persistence failure must surface as an error")
		}
		if len(pusher.pushed) != 0 {
			t.Error("nothing should be pushed when persistence fails")
		}
	})

	t.Run("Malformed Payload Is Committed", func(t *testing.T) {
		saved := false
		store := &mockStore{
			SaveFunc: func(ctx context.Context, n *Notification) (*Notification, error) {
				saved = true
				return n, nil
			},
		}
		c := testConsumer(store, &mockPusher{}, &mockDirectory{}, &mockEnqueuer{}, &mockMailer{})

		if err := c.HandleNotification(context.Background(), "user_1", []byte("{not json")); err != nil {
			t.Fatalf("a malformed payload must not be redelivered, got %v", err)
		}
		if saved {
			t.Error("a malformed payload must not be persisted")
		}
	})

	t.Run("Email Channel Enqueues Email", func(t *testing.T) {
		n := *base
		n.Channel = ChannelBoth

		emails := &mockEnqueuer{}
		c := testConsumer(&mockStore{}, &mockPusher{}, &mockDirectory{}, emails, &mockMailer{})

		if err := c.HandleNotification(context.Background(), n.UserID, eventPayload(t, &n)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(emails.notifications) != 1 || emails.notifications[0] != "user@example.com" {
			t.Fatalf("expected one email enqueued for user@example.com, got %v", emails.notifications)
		}
	})

	t.Run("Missing Address Is A Soft Failure", func(t *testing.T) {
		n := *base
		n.Channel = ChannelEmail

		dir := &mockDirectory{
			EmailByUserFunc: func(ctx context.Context, userID string) (string, error) {
				return "", errors.New("no such user")
			},
		}
		emails := &mockEnqueuer{}
		c := testConsumer(&mockStore{}, &mockPusher{}, dir, emails, &mockMailer{})

		if err := c.HandleNotification(context.Background(), n.UserID, eventPayload(t, &n)); err != nil {
			t.Fatalf("a directory failure must not withhold the commit, got %v", err)
		}
		if len(emails.notifications) != 0 {
			t.Error("no email should be enqueued without an address")
		}
	})

	t.Run("Count Failure Is A Soft Failure", func(t *testing.T) {
		store := &mockStore{
			CountUnreadByUserFunc: func(ctx context.Context, userID string) (int64, error) {
				return 0, errors.New("count query failed")
			},
		}
		pusher := &mockPusher{}
		c := testConsumer(store, pusher, &mockDirectory{}, &mockEnqueuer{}, &mockMailer{})

		if err := c.HandleNotification(context.Background(), base.UserID, eventPayload(t, base)); err != nil {
			t.Fatalf("a count failure must not withhold the commit, got %v", err)
		}
		if len(pusher.pushed) != 1 {
			t.Error("the notification push should still happen")
		}
		if len(pusher.counts) != 0 {
			t.Error("no unread count should be pushed when the query fails")
		}
	})
}

func TestConsumer_HandleEmailTask(t *testing.T) {
	t.Run("Valid Payload", func(t *testing.T) {
		var gotTo, gotSubject, gotBody string
		mailer := &mockMailer{
			SendSimpleEmailFunc: func(ctx context.Context, to, subject, body string) error {
				gotTo, gotSubject, gotBody = to, subject, body
				return nil
			},
		}
		c := testConsumer(&mockStore{}, &mockPusher{}, &mockDirectory{}, &mockEnqueuer{}, mailer)

		payload := []byte("abc-123|user@example.com|Security Alert|New login | from Berlin")
		if err := c.HandleEmailTask(context.Background(), "user@example.com", payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotTo != "user@example.com" || gotSubject != "Security Alert" {
			t.Errorf("unexpected recipient or subject: %q %q", gotTo, gotSubject)
		}
		// Only the first three separators split; the content keeps its pipes.
		if gotBody != "New login | from Berlin" {
			t.Errorf("unexpected body: %q", gotBody)
		}
	})

	t.Run("Malformed Payload Is Committed", func(t *testing.T) {
		mailer := &mockMailer{}
		c := testConsumer(&mockStore{}, &mockPusher{}, &mockDirectory{}, &mockEnqueuer{}, mailer)

		if err := c.HandleEmailTask(context.Background(), "k", []byte("bad-format")); err != nil {
			t.Fatalf("a malformed payload must not be redelivered, got %v", err)
		}
		if len(mailer.simpleSent) != 0 {
			t.Errorf("no email should be sent for a malformed payload, got %d", len(mailer.simpleSent))
		}
	})

	t.Run("Transport Failure Withholds Commit", func(t *testing.T) {
		mailer := &mockMailer{
			SendSimpleEmailFunc: func(ctx context.Context, to, subject, body string) error {
				return errors.New("resend is down")
			},
		}
		c := testConsumer(&mockStore{}, &mockPusher{}, &mockDirectory{}, &mockEnqueuer{}, mailer)

		payload := []byte("abc-123|user@example.com|Subject|Body")
		if err := c.HandleEmailTask(context.Background(), "user@example.com", payload); err == nil {
			t.Fatal("a transport failure must surface as an error")
		}
	})
}
