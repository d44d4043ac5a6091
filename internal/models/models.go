// Package models holds the records persisted by the store and carried in
// protocol payloads.
package models

// Message kinds.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Message delivery states. A message only ever moves forward through them.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// User is a registered chat participant. Username is the identity; ID is
// generated on first sight and never changes.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Zodiac   string `json:"zodiac"`
}

// Message is a persisted chat message. ConversationID is the recipient's user
// id for direct messages and the group id for group messages.
type Message struct {
	ID             string `json:"id"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"status"`
	ConversationID string `json:"conversationId"`
	IsGroup        bool   `json:"isGroup"`
}

// Group is a named set of members. Members only grow.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt int64    `json:"createdAt"`
}

// HasMember reports whether userID belongs to the group.
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// ValidMessageType reports whether t is a supported message kind.
func ValidMessageType(t string) bool {
	return t == TypeText || t == TypeImage
}
