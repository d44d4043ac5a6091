// Package protocol defines the JSON envelope exchanged over the WebSocket and
// the payloads carried inside it.
package protocol

import (
	"encoding/json"

	"github.com/Tyrowin/zodiacchat/internal/models"
)

// Inbound event types.
const (
	TypeRegister    = "register"
	TypeAuth        = "auth"
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeRead        = "read"
	TypeCreateGroup = "create_group"
	TypeJoinGroup   = "join_group"
	TypeGetGroups   = "get_groups"
	TypeGetUsers    = "get_users"
	TypeGetMessages = "get_messages"
)

// Outbound event types.
const (
	TypeRegisterSuccess  = "register_success"
	TypeAuthSuccess      = "auth_success"
	TypeGroupsList       = "groups_list"
	TypeUsersList        = "users_list"
	TypeMessageSent      = "message_sent"
	TypeMessageReceived  = "message_received"
	TypeMessageDelivered = "message_delivered"
	TypeMessageRead      = "message_read"
	TypeUserTyping       = "user_typing"
	TypeGroupCreated     = "group_created"
	TypeGroupJoined      = "group_joined"
	TypeMessagesList     = "messages_list"
	TypeError            = "error"
)

// Envelope is the frame every WebSocket text message carries. Payload is left
// raw until the type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a frame into its envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Encode wraps payload in an envelope of the given type.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// UnmarshalPayload decodes the envelope payload into v. A missing payload
// leaves v at its zero value.
func (e Envelope) UnmarshalPayload(v interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Client -> server payloads.

// Credentials is the payload of both register and auth.
type Credentials struct {
	Username string `json:"username"`
	Zodiac   string `json:"zodiac"`
}

type SendMessage struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
}

type Typing struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

type Read struct {
	MessageID string `json:"messageId"`
}

type CreateGroup struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

type JoinGroup struct {
	GroupID string `json:"groupId"`
}

// GetMessages asks for conversation history. Limit <= 0 means the server
// default.
type GetMessages struct {
	RecipientID string `json:"recipientId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Server -> client payloads.

// Session answers register and auth.
type Session struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Zodiac   string `json:"zodiac"`
}

type GroupsList struct {
	Groups []*models.Group `json:"groups"`
}

// RosterEntry is one user in a users_list, annotated with presence.
type RosterEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Zodiac   string `json:"zodiac"`
	IsOnline bool   `json:"isOnline"`
}

type UsersList struct {
	Users []RosterEntry `json:"users"`
}

// MessageEnvelope carries a full message record (message_sent and
// message_received).
type MessageEnvelope struct {
	Message *models.Message `json:"message"`
}

// MessageRef carries only a message id (message_delivered and message_read).
type MessageRef struct {
	MessageID string `json:"messageId"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	GroupID  string `json:"groupId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

type GroupEnvelope struct {
	Group *models.Group `json:"group"`
}

type GroupJoined struct {
	Group  *models.Group `json:"group"`
	UserID string        `json:"userId"`
}

type MessagesList struct {
	RecipientID string            `json:"recipientId,omitempty"`
	GroupID     string            `json:"groupId,omitempty"`
	Messages    []*models.Message `json:"messages"`
}

type Error struct {
	Error string `json:"error"`
}
