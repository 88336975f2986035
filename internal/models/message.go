package models

import "time"

// ViewWindow is how long an image lives, counted from the first view,
// or from sending while it has not been viewed.
const ViewWindow = 30 * time.Second

// MessageStatus is the state of an ephemeral image
type MessageStatus string

const (
	MessageSent    MessageStatus = "sent"
	MessageViewed  MessageStatus = "viewed"
	MessageExpired MessageStatus = "expired"
)

// Message is a single ephemeral image travelling inside a pair
type Message struct {
	ID          string        `json:"id"`
	PairID      string        `json:"pair_id"`
	SenderID    string        `json:"sender_id"`
	ReceiverID  string        `json:"receiver_id"`
	Status      MessageStatus `json:"status"`
	SentAt      time.Time     `json:"sent_at"`
	ViewedAt    *time.Time    `json:"viewed_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	BlobKey     string        `json:"-"`
	ContentType string        `json:"content_type"`
	Filename    string        `json:"filename"`
}

// IsExpired is the single expiry predicate shared by view, info and sweep.
func (m *Message) IsExpired(now time.Time) bool {
	switch m.Status {
	case MessageExpired:
		return true
	case MessageSent:
		return now.Sub(m.SentAt) > ViewWindow
	case MessageViewed:
		return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
	}
	return false
}

// EffectiveStatus is the status the message has at now, counting overdue messages
// as expired even if nothing has transitioned them yet.
func (m *Message) EffectiveStatus(now time.Time) MessageStatus {
	if m.IsExpired(now) {
		return MessageExpired
	}
	return m.Status
}

// Deadline is the moment the message stops being viewable
func (m *Message) Deadline() time.Time {
	if m.ExpiresAt != nil {
		return *m.ExpiresAt
	}
	return m.SentAt.Add(ViewWindow)
}

// TimeLeft is the remaining lifetime at now, floored at zero
func (m *Message) TimeLeft(now time.Time) time.Duration {
	if m.Status == MessageExpired {
		return 0
	}
	left := m.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// MarkViewed moves a sent message to viewed and starts the countdown
func (m *Message) MarkViewed(now time.Time) {
	viewedAt := now
	expiresAt := now.Add(ViewWindow)
	m.Status = MessageViewed
	m.ViewedAt = &viewedAt
	m.ExpiresAt = &expiresAt
}
