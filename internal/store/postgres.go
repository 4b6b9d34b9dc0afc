package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ListClients returns the full client collection ordered by creation time
// descending. Rows with a status outside the known enumeration are dropped
// and logged rather than coerced.
func (s *PostgresStore) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, phone, COALESCE(email, ''), COALESCE(city, ''),
			COALESCE(project, ''), COALESCE(budget, ''), COALESCE(campaign, ''),
			assigned_to, COALESCE(comments, '[]'::jsonb), created_at, updated_at
		FROM clients
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		var item Client
		var commentsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Status,
			&item.Phone,
			&item.Email,
			&item.City,
			&item.Project,
			&item.Budget,
			&item.Campaign,
			&item.AssignedTo,
			&commentsRaw,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		if !ValidStatus(item.Status) {
			log.Printf("store: dropping client %s with unrecognized status %q", item.ID, item.Status)
			continue
		}
		_ = json.Unmarshal(commentsRaw, &item.Comments)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, item Client) error {
	if !ValidStatus(item.Status) {
		return fmt.Errorf("insert client: unrecognized status %q", item.Status)
	}
	comments := item.Comments
	if comments == nil {
		comments = []string{}
	}
	encodedComments, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("marshal client comments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, status, phone, email, city, project, budget, campaign, assigned_to, comments)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11::jsonb)
	`, item.ID, item.Name, item.Status, item.Phone, item.Email, item.City, item.Project, item.Budget, item.Campaign, item.AssignedTo, string(encodedComments))
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteClients(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("delete clients: %w", err)
	}
	return nil
}

// FindClientByPhone returns the oldest client with the given phone, or nil if
// none exists. Phone is not unique at the storage layer; the import pipeline
// treats it as the dedup key.
func (s *PostgresStore) FindClientByPhone(ctx context.Context, phone string) (*Client, error) {
	var item Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, phone, created_at
		FROM clients
		WHERE phone=$1
		ORDER BY created_at ASC
		LIMIT 1
	`, phone).Scan(&item.ID, &item.Name, &item.Status, &item.Phone, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find client by phone: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) EnsureProfileByName(ctx context.Context, name string) (Profile, error) {
	const findProfile = `SELECT id, display_name, email, active FROM profiles WHERE display_name = $1`
	var profile Profile
	err := s.db.QueryRowContext(ctx, findProfile, name).Scan(&profile.ID, &profile.DisplayName, &profile.Email, &profile.Active)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Profile{}, fmt.Errorf("lookup profile: %w", err)
	}

	insertProfile := `
		INSERT INTO profiles (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@aqardesk.local'))
		RETURNING id, display_name, email, active
	`
	if err := s.db.QueryRowContext(ctx, insertProfile, name).Scan(&profile.ID, &profile.DisplayName, &profile.Email, &profile.Active); err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, active FROM profiles WHERE id=$1
	`, profileID).Scan(&profile.ID, &profile.DisplayName, &profile.Email, &profile.Active)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// CountActiveProfiles feeds the presence tracker's offline derivation.
func (s *PostgresStore) CountActiveProfiles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active profiles: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND NOT read
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, body)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.UserID, item.Title, item.Body)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE user_id=$1 AND NOT read
	`, userID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// NotificationSettings is persisted as a JSON blob on the profile row. A
// missing blob comes back as an empty object; field-level defaults are the
// caller's concern.
func (s *PostgresStore) NotificationSettings(ctx context.Context, userID string) (json.RawMessage, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(notification_settings, '{}'::jsonb) FROM profiles WHERE id=$1
	`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read notification settings: %w", err)
	}
	return raw, nil
}

func (s *PostgresStore) SaveNotificationSettings(ctx context.Context, userID string, raw json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET notification_settings=$2::jsonb, updated_at=NOW() WHERE id=$1
	`, userID, string(raw))
	if err != nil {
		return fmt.Errorf("save notification settings: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
