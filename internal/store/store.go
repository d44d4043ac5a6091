// Package store maps users, messages and groups onto key-value primitives.
// It performs no caching and no multi-key transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Tyrowin/zodiacchat/internal/kv"
	"github.com/Tyrowin/zodiacchat/internal/models"
)

// ErrUnavailable wraps every backend failure surfaced by Store.
var ErrUnavailable = errors.New("store unavailable")

const usersKey = "users"

func userKey(id string) string           { return "user:" + id }
func usernameKey(name string) string     { return "user:username:" + name }
func messageKey(id string) string        { return "message:" + id }
func conversationKey(cid string) string  { return "conversation:" + cid + ":messages" }
func groupKey(id string) string          { return "group:" + id }
func groupMembersKey(id string) string   { return "group:" + id + ":members" }
func userGroupsKey(userID string) string { return "user:" + userID + ":groups" }

// Store is the typed adapter over a kv.KV.
type Store struct {
	kv kv.KV
}

// New returns a Store backed by k.
func New(k kv.KV) *Store {
	return &Store{kv: k}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.kv.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Flush removes every key. Administrative use only.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.kv.FlushDB(ctx); err != nil {
		return unavailable("flush", err)
	}
	return nil
}

// CreateUser writes the user record, the username index and the global user
// set entry. Callers are responsible for username uniqueness.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := s.kv.HSet(ctx, userKey(u.ID), map[string]string{
		"id":       u.ID,
		"username": u.Username,
		"zodiac":   u.Zodiac,
	}); err != nil {
		return unavailable("create user", err)
	}
	if err := s.kv.Set(ctx, usernameKey(u.Username), u.ID); err != nil {
		return unavailable("create user", err)
	}
	if err := s.kv.SAdd(ctx, usersKey, u.ID); err != nil {
		return unavailable("create user", err)
	}
	return nil
}

// GetUserByID returns nil, nil when no such user exists.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	fields, err := s.kv.HGetAll(ctx, userKey(id))
	if err != nil {
		return nil, unavailable("get user", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &models.User{
		ID:       fields["id"],
		Username: fields["username"],
		Zodiac:   fields["zodiac"],
	}, nil
}

// GetUserByUsername returns nil, nil when the username is not registered.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	id, err := s.kv.Get(ctx, usernameKey(username))
	if errors.Is(err, kv.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get user by username", err)
	}
	return s.GetUserByID(ctx, id)
}

// ListAllUserIDs returns every registered user id in backend order.
func (s *Store) ListAllUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.kv.SMembers(ctx, usersKey)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	return ids, nil
}

// ListUsers resolves every registered user. Ids without a record are skipped.
func (s *Store) ListUsers(ctx context.Context) ([]*models.User, error) {
	ids, err := s.ListAllUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// AppendMessage persists msg and prepends its id to the conversation list.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := s.kv.HSet(ctx, messageKey(msg.ID), map[string]string{
		"id":             msg.ID,
		"senderId":       msg.SenderID,
		"senderName":     msg.SenderName,
		"content":        msg.Content,
		"type":           msg.Type,
		"timestamp":      strconv.FormatInt(msg.Timestamp, 10),
		"status":         msg.Status,
		"conversationId": msg.ConversationID,
		"isGroup":        strconv.FormatBool(msg.IsGroup),
	}); err != nil {
		return unavailable("append message", err)
	}
	if err := s.kv.LPush(ctx, conversationKey(msg.ConversationID), msg.ID); err != nil {
		return unavailable("append message", err)
	}
	return nil
}

// GetMessageByID returns nil, nil when the message does not exist.
func (s *Store) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	fields, err := s.kv.HGetAll(ctx, messageKey(id))
	if err != nil {
		return nil, unavailable("get message", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	ts, _ := strconv.ParseInt(fields["timestamp"], 10, 64)
	isGroup, _ := strconv.ParseBool(fields["isGroup"])
	return &models.Message{
		ID:             fields["id"],
		SenderID:       fields["senderId"],
		SenderName:     fields["senderName"],
		Content:        fields["content"],
		Type:           fields["type"],
		Timestamp:      ts,
		Status:         fields["status"],
		ConversationID: fields["conversationId"],
		IsGroup:        isGroup,
	}, nil
}

// SetMessageStatus overwrites the status field only.
func (s *Store) SetMessageStatus(ctx context.Context, id, status string) error {
	if err := s.kv.HSet(ctx, messageKey(id), map[string]string{"status": status}); err != nil {
		return unavailable("set message status", err)
	}
	return nil
}

// ListConversationMessages returns up to limit of the most recent messages in
// the conversation, oldest first. Ids whose record is gone are skipped.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		return []*models.Message{}, nil
	}
	ids, err := s.kv.LRange(ctx, conversationKey(conversationID), 0, int64(limit-1))
	if err != nil {
		return nil, unavailable("list conversation", err)
	}

	msgs := make([]*models.Message, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		m, err := s.GetMessageByID(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// CreateGroup writes the group record, its member set and each member's
// reverse index entry.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if err := s.kv.HSet(ctx, groupKey(g.ID), map[string]string{
		"id":        g.ID,
		"name":      g.Name,
		"createdBy": g.CreatedBy,
		"createdAt": strconv.FormatInt(g.CreatedAt, 10),
	}); err != nil {
		return unavailable("create group", err)
	}
	if err := s.kv.SAdd(ctx, groupMembersKey(g.ID), g.Members...); err != nil {
		return unavailable("create group", err)
	}
	for _, member := range g.Members {
		if err := s.kv.SAdd(ctx, userGroupsKey(member), g.ID); err != nil {
			return unavailable("create group", err)
		}
	}
	return nil
}

// GetGroupByID returns nil, nil when the group does not exist.
func (s *Store) GetGroupByID(ctx context.Context, id string) (*models.Group, error) {
	fields, err := s.kv.HGetAll(ctx, groupKey(id))
	if err != nil {
		return nil, unavailable("get group", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	members, err := s.kv.SMembers(ctx, groupMembersKey(id))
	if err != nil {
		return nil, unavailable("get group", err)
	}
	createdAt, _ := strconv.ParseInt(fields["createdAt"], 10, 64)
	return &models.Group{
		ID:        fields["id"],
		Name:      fields["name"],
		Members:   members,
		CreatedBy: fields["createdBy"],
		CreatedAt: createdAt,
	}, nil
}

// ListUserGroups resolves every group userID belongs to.
func (s *Store) ListUserGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	ids, err := s.kv.SMembers(ctx, userGroupsKey(userID))
	if err != nil {
		return nil, unavailable("list user groups", err)
	}
	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGroupByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if g != nil {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// AddGroupMember adds userID to the group and the group to the user's index.
// Adding an existing member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if err := s.kv.SAdd(ctx, groupMembersKey(groupID), userID); err != nil {
		return unavailable("add group member", err)
	}
	if err := s.kv.SAdd(ctx, userGroupsKey(userID), groupID); err != nil {
		return unavailable("add group member", err)
	}
	return nil
}
