package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/donation-ledger/donation"
)

// =============================================================================
// USER STORE (donation.UserStore interface)
// =============================================================================

// CreateUser saves a new account. Account status defaults to active.
func (s *Store) CreateUser(ctx context.Context, u donation.User) (donation.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.AccountStatus == "" {
		u.AccountStatus = donation.AccountActive
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, email, role, account_status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.Name, nullString(strings.TrimSpace(u.Email)), string(u.Role), string(u.AccountStatus), formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, donation.ErrDuplicateEmail
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read user id: %w", err)
	}
	return donation.UserID(id), nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id donation.UserID) (donation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, account_status, created_at
		FROM users WHERE id = ?`, int64(id))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return donation.User{}, donation.ErrUserNotFound
	}
	return u, err
}

// UpdateUser changes name, email, role and account status. created_at is kept.
func (s *Store) UpdateUser(ctx context.Context, u donation.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ?, role = ?, account_status = ?
		WHERE id = ?`,
		u.Name, nullString(strings.TrimSpace(u.Email)), string(u.Role), string(u.AccountStatus), int64(u.ID),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return donation.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n == 0 {
		return donation.ErrUserNotFound
	}
	return nil
}

// ListUsers returns users matching the filter, ordered by ID.
func (s *Store) ListUsers(ctx context.Context, f donation.UserFilter) ([]donation.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, email, role, account_status, created_at FROM users WHERE 1 = 1`
	var args []any
	if f.Role != "" {
		query += ` AND role = ?`
		args = append(args, string(f.Role))
	}
	if f.AccountStatus != "" {
		query += ` AND account_status = ?`
		args = append(args, string(f.AccountStatus))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []donation.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (donation.User, error) {
	var (
		u         donation.User
		email     sql.NullString
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &email, &u.Role, &u.AccountStatus, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return donation.User{}, err
		}
		return donation.User{}, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Email = email.String
	t, err := parseTime(createdAt)
	if err != nil {
		return donation.User{}, err
	}
	u.CreatedAt = t
	return u, nil
}

// =============================================================================
// NOTIFICATION STORE (donation.NotificationStore interface)
// =============================================================================

// SaveNotification adds an entry to the user's inbox.
func (s *Store) SaveNotification(ctx context.Context, n donation.Notification) (donation.NotificationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.Kind == "" {
		n.Kind = donation.KindInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, message, kind, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(n.UserID), n.Title, n.Message, string(n.Kind), n.Read, formatTime(n.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read notification id: %w", err)
	}
	return donation.NotificationID(id), nil
}

// ListNotifications returns a user's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID donation.UserID, unreadOnly bool) ([]donation.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, user_id, title, message, kind, read, created_at
		FROM notifications
		WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var result []donation.Notification
	for rows.Next() {
		var (
			n         donation.Notification
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Kind, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID donation.UserID, id donation.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`,
		int64(id), int64(userID))
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n == 0 {
		return donation.ErrNotificationNotFound
	}
	return nil
}
