package models

import "time"

// AccountSnapshot records one balance of an account at a point in time.
type AccountSnapshot struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	UserName    string    `json:"user_name"`
	AccountName string    `json:"account_name"`
	Balance     float64   `json:"balance"`
	Timestamp   time.Time `json:"timestamp"`
}

// AccountBalance is the current balance of one account.
type AccountBalance struct {
	AccountName string  `json:"account_name"`
	Balance     float64 `json:"balance"`
}
