package model

import "time"

// Message is a single chat message under analysis.
type Message struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id,omitempty"`
	SenderID string    `json:"sender_id,omitempty"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// Sender carries the context we know about a message author.
type Sender struct {
	ID          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	JoinedAt    time.Time `json:"joined_at,omitempty"`
	IsAdmin     bool      `json:"is_admin,omitempty"`
}

// BaselineSnapshot summarizes a sender's historical behavior in a group.
// A nil or low-sample snapshot disables anomaly detection for that sender.
type BaselineSnapshot struct {
	SenderID      string    `json:"sender_id"`
	AvgMsgLength  float64   `json:"avg_msg_length"`
	StdMsgLength  float64   `json:"std_msg_length"`
	ActiveHours   []int     `json:"active_hours,omitempty"`
	URLShareRate  float64   `json:"url_share_rate"`
	EmojiRate     float64   `json:"emoji_rate"`
	TotalMessages int       `json:"total_messages"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Sufficient reports whether the baseline has enough history to judge
// deviations against.
func (b *BaselineSnapshot) Sufficient(minMessages int) bool {
	return b != nil && b.TotalMessages >= minMessages
}
