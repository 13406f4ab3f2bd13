package models

import "time"

// Reminder is a scheduled text for a chat, completed at most once.
type Reminder struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	Content     string    `json:"content"`
	RemindTime  time.Time `json:"remind_time"`
	UserName    string    `json:"user_name"`
	IsCompleted bool      `json:"is_completed"`
}
