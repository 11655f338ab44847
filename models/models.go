package models

import (
	"database/sql"
)

// User is a row of the platform's users table. Every column except id may
// be NULL on older accounts.
type User struct {
	ID         int64          `db:"id"`
	Name       sql.NullString `db:"name"`
	Email      sql.NullString `db:"email"`
	Phone      sql.NullString `db:"phone"`
	CreatedAt  sql.NullTime   `db:"created_at"`
	LastActive sql.NullTime   `db:"last_active"`
}

// Message is one entry of a user's recent activity, from either direct or
// group chats. ChatID is prefixed IND- or MSG- accordingly.
type Message struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	ChatID    string `json:"chat_id"`
	Raw       int64  `json:"-"`
}

// UserProfile is the dashboard view of a platform user.
type UserProfile struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Status         string    `json:"status"`
	CreatedAt      string    `json:"created_at"`
	LastActive     string    `json:"last_active"`
	MessageCount   int       `json:"message_count"`
	ReportCount    int       `json:"report_count"`
	RecentMessages []Message `json:"recent_messages"`
}

// UserSummary is one search hit.
type UserSummary struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
}

// Report groups the reports filed against one user.
type Report struct {
	ID             string   `json:"id"`
	ReportedUser   string   `json:"reported_user"`
	ReportedUserID string   `json:"reported_user_id"`
	Description    string   `json:"description"`
	ReportCount    int      `json:"report_count"`
	Reporters      []string `json:"reporters"`
}

// MessageHit is one chat message matched by a moderator search. Type is
// "activity" for group chats and "individual" for direct messages.
type MessageHit struct {
	Type       string `json:"type"`
	MessageID  int64  `json:"message_id"`
	ChatID     int64  `json:"chat_id"`
	ChatName   string `json:"chat_name"`
	SenderID   int64  `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
	Deleted    bool   `json:"deleted"`
	Raw        int64  `json:"-"`
}

type Feedback struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	Message   string `json:"message"`
	Rating    int    `json:"rating"`
	Timestamp string `json:"timestamp"`
}

type ChatStats struct {
	ActivityChats      int `json:"total_activity_chats"`
	IndividualChats    int `json:"total_individual_chats"`
	ActivityMessages   int `json:"total_activity_messages"`
	IndividualMessages int `json:"total_individual_messages"`
}
