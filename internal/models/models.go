package models

import "time"

// User represents a user in the system
type User struct {
	ID                string     `json:"id"`
	CurrentPairID     *string    `json:"current_pair_id,omitempty"`
	PairingCode       *string    `json:"-"`
	PairingCodeExpiry *time.Time `json:"-"`
	PushToken         *string    `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsPaired reports whether the user currently belongs to a pair
func (u *User) IsPaired() bool {
	return u.CurrentPairID != nil
}

// HasActiveCode reports whether the user holds a pairing code that has not expired at now
func (u *User) HasActiveCode(now time.Time) bool {
	return u.PairingCode != nil && u.PairingCodeExpiry != nil && !u.PairingCodeExpiry.Before(now)
}

// PairStatus is the lifecycle state of a pair
type PairStatus string

const (
	PairActive   PairStatus = "active"
	PairInactive PairStatus = "inactive"
)

// Pair represents a pair of users
type Pair struct {
	ID           string     `json:"id"`
	User1ID      string     `json:"user1_id"`
	User2ID      string     `json:"user2_id"`
	Status       PairStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}

// PartnerOf returns the other member of the pair
func (p *Pair) PartnerOf(userID string) string {
	if p.User1ID == userID {
		return p.User2ID
	}
	return p.User1ID
}

// HasMember reports whether userID is one of the two members
func (p *Pair) HasMember(userID string) bool {
	return p.User1ID == userID || p.User2ID == userID
}
