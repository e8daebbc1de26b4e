package notification

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Type identifies the domain event that triggered a notification.
type Type string

const (
	TypeAccountCreated       Type = "ACCOUNT_CREATED"
	TypeTransactionCompleted Type = "TRANSACTION_COMPLETED"
	TypeTransactionFailed    Type = "TRANSACTION_FAILED"
	TypeSecurityAlert        Type = "SECURITY_ALERT"
	TypeSystemAnnouncement   Type = "SYSTEM_ANNOUNCEMENT"
	TypeAccountSuspended     Type = "ACCOUNT_SUSPENDED"
	TypeAccountActivated     Type = "ACCOUNT_ACTIVATED"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAccountCreated, TypeTransactionCompleted, TypeTransactionFailed,
		TypeSecurityAlert, TypeSystemAnnouncement, TypeAccountSuspended, TypeAccountActivated:
		return true
	}
	return false
}

// Channel determines which delivery side effects fire for a notification.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
	ChannelBoth  Channel = "BOTH"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelBoth:
		return true
	}
	return false
}

// WantsEmail reports whether the channel includes email delivery.
func (c Channel) WantsEmail() bool {
	return c == ChannelEmail || c == ChannelBoth
}

// Priority is advisory only; it does not alter delivery guarantees.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

const (
	MaxTitleLen   = 200
	MaxMessageLen = 1000
)

var (
	ErrEmptyUserID  = errors.New("notification user id cannot be empty")
	ErrEmptyTitle   = errors.New("notification title cannot be empty")
	ErrEmptyMessage = errors.New("notification message cannot be empty")
)

// Notification is immutable except for the read/readAt pair, which only
// changes through MarkRead and MarkUnread. The JSON encoding is the wire
// format used on the event log and the push stream.
type Notification struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"userId"`
	Type      Type       `json:"type"`
	Channel   Channel    `json:"channel"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Priority  Priority   `json:"priority"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// New builds an unread notification with no identity yet; the record
// store assigns the id on save.
func New(userID string, typ Type, channel Channel, title, message string, priority Priority) (*Notification, error) {
	n := &Notification{
		UserID:    userID,
		Type:      typ,
		Channel:   channel,
		Title:     title,
		Message:   message,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks the entity invariants shared by creation and
// reconstitution from storage.
func (n *Notification) Validate() error {
	if n.UserID == "" {
		return ErrEmptyUserID
	}
	if n.Title == "" {
		return ErrEmptyTitle
	}
	if utf8.RuneCountInString(n.Title) > MaxTitleLen {
		return fmt.Errorf("notification title must be at most %d characters", MaxTitleLen)
	}
	if n.Message == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(n.Message) > MaxMessageLen {
		return fmt.Errorf("notification message must be at most %d characters", MaxMessageLen)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("unknown notification type: %q", n.Type)
	}
	if !n.Channel.Valid() {
		return fmt.Errorf("unknown notification channel: %q", n.Channel)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("unknown notification priority: %q", n.Priority)
	}
	if n.Read != (n.ReadAt != nil) {
		return errors.New("read flag and read timestamp are inconsistent")
	}
	return nil
}

// MarkRead returns a copy with the read pair set. Calling it on an
// already-read notification is a no-op.
func (n *Notification) MarkRead() *Notification {
	if n.Read {
		return n
	}
	out := *n
	now := time.Now().UTC()
	out.Read = true
	out.ReadAt = &now
	return &out
}

// MarkUnread returns a copy with the read pair cleared. Calling it on an
// unread notification is a no-op.
func (n *Notification) MarkUnread() *Notification {
	if !n.Read {
		return n
	}
	out := *n
	out.Read = false
	out.ReadAt = nil
	return &out
}
