package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/models"
	"chatkeeper/internal/storage"
)

// Zone-less remind_time layouts, read in the caller's location.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseRemindTime accepts RFC 3339 or a local date-time without zone.
func ParseRemindTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperr.Validation("parse remind_time", "remind_time is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("parse remind_time", fmt.Sprintf("invalid remind_time %q", value))
}

// Store persists reminders. Reminders are never deleted.
type Store struct {
	q storage.Querier
}

func NewStore(q storage.Querier) *Store {
	return &Store{q: q}
}

// Save inserts an incomplete reminder and returns its id.
func (s *Store) Save(ctx context.Context, r models.Reminder) (int64, error) {
	var missing []string
	if strings.TrimSpace(r.ChatID) == "" {
		missing = append(missing, "chat_id")
	}
	if strings.TrimSpace(r.Content) == "" {
		missing = append(missing, "content")
	}
	if r.RemindTime.IsZero() {
		missing = append(missing, "remind_time")
	}
	if strings.TrimSpace(r.UserName) == "" {
		missing = append(missing, "user_name")
	}
	if len(missing) > 0 {
		return 0, apperr.Validation("save reminder",
			"missing required fields in reminder data: "+strings.Join(missing, ", "))
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO reminders (chat_id, content, remind_time, user_name, is_completed) VALUES (?, ?, ?, ?, FALSE)`,
		r.ChatID, r.Content, r.RemindTime.UTC(), r.UserName,
	)
	if err != nil {
		return 0, apperr.Storage("save reminder", fmt.Errorf("insert reminder: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Storage("save reminder", fmt.Errorf("reminder id: %w", err))
	}
	return id, nil
}

// Due lists incomplete reminders whose remind_time is not after now.
// Callers must not rely on the order.
func (s *Store) Due(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, chat_id, content, remind_time, user_name, is_completed FROM reminders
		 WHERE remind_time <= ? AND is_completed = FALSE ORDER BY remind_time, id`,
		now.UTC(),
	)
	if err != nil {
		return nil, apperr.Storage("check reminders", fmt.Errorf("list due reminders: %w", err))
	}
	defer rows.Close()

	reminders := make([]models.Reminder, 0)
	for rows.Next() {
		var (
			r        models.Reminder
			userName *string
		)
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Content, &r.RemindTime, &userName, &r.IsCompleted); err != nil {
			return nil, apperr.Storage("check reminders", fmt.Errorf("scan reminder: %w", err))
		}
		if userName != nil {
			r.UserName = *userName
		}
		reminders = append(reminders, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("check reminders", err)
	}
	return reminders, nil
}

// Complete marks a reminder done. Repeating it, or passing an unknown id,
// is not an error.
func (s *Store) Complete(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE reminders SET is_completed = TRUE WHERE id = ?`, id); err != nil {
		return apperr.Storage("complete reminder", fmt.Errorf("complete reminder: %w", err))
	}
	return nil
}
