package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row abstracts *sql.Row for mocking.
type Row interface {
	Scan(dest ...any) error
}

// Rows abstracts *sql.Rows for mocking.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) Row
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Repository handles database operations for notifications.
type Repository struct {
	db DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: &sqlDB{db: db}}
}

// NewTestRepository allows injecting a mock DB in tests.
func NewTestRepository(db DB) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `id, user_id, type, channel, title, message, priority, read, created_at, read_at`

// Save inserts a notification and returns the stored form. A missing id
// or created timestamp is assigned here; a redelivered event therefore
// produces a second row rather than a constraint error, which is the
// accepted at-least-once outcome.
func (r *Repository) Save(ctx context.Context, n *Notification) (*Notification, error) {
	stored := *n
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notifications (id, user_id, type, channel, title, message, priority, read, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		stored.ID, stored.UserID, stored.Type, stored.Channel, stored.Title,
		stored.Message, stored.Priority, stored.Read, stored.CreatedAt, stored.ReadAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return &stored, nil
}

// Update persists the mutable read state of an existing notification.
func (r *Repository) Update(ctx context.Context, n *Notification) (*Notification, error) {
	query := `UPDATE notifications SET read = $1, read_at = $2 WHERE id = $3 AND user_id = $4`
	_, err := r.db.ExecContext(ctx, query, n.Read, n.ReadAt, n.ID, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	return n, nil
}

// FindByIDAndUser retrieves one notification scoped to its owner.
// Returns (nil, nil) when no row matches.
func (r *Repository) FindByIDAndUser(ctx context.Context, id, userID string) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND user_id = $2`
	row := r.db.QueryRowContext(ctx, query, id, userID)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

// FindByUser returns a page of the user's notifications, newest first.
func (r *Repository) FindByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryMany(ctx, query, userID, limit, offset)
}

// FindUnreadByUser returns a page of the user's unread notifications, newest first.
func (r *Repository) FindUnreadByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications WHERE user_id = $1 AND read = false
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryMany(ctx, query, userID, limit, offset)
}

// CountUnreadByUser returns the number of unread notifications for a user.
func (r *Repository) CountUnreadByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	row := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAllRead marks every unread notification for a user as read and
// returns the number of rows changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = true, read_at = $1 WHERE user_id = $2 AND read = false`,
		time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}
	return rowsAffected(res), nil
}

// DeleteByIDAndUser removes one notification scoped to its owner.
func (r *Repository) DeleteByIDAndUser(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete notification: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// DeleteOldRead removes read notifications created before the cutoff.
func (r *Repository) DeleteOldRead(ctx context.Context, userID string, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE user_id = $1 AND read = true AND created_at < $2`,
		userID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return rowsAffected(res), nil
}

// DeleteByUser removes every notification belonging to a user.
func (r *Repository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user notifications: %w", err)
	}
	return nil
}

func (r *Repository) queryMany(ctx context.Context, query string, args ...any) ([]*Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Channel, &n.Title,
		&n.Message, &n.Priority, &n.Read, &n.CreatedAt, &n.ReadAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return count
}

// Directory resolves a user id to an email address. User management is
// owned by the auth service; this is the only view of it the pipeline needs.
type Directory interface {
	EmailByUser(ctx context.Context, userID string) (string, error)
}

// PostgresDirectory reads the users table maintained by the auth service.
type PostgresDirectory struct {
	db DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: &sqlDB{db: db}}
}

func (d *PostgresDirectory) EmailByUser(ctx context.Context, userID string) (string, error) {
	var email string
	row := d.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID)
	if err := row.Scan(&email); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no user found for id %s", userID)
		}
		return "", fmt.Errorf("failed to look up user email: %w", err)
	}
	return email, nil
}
