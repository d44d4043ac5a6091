package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/models"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

// CreateGroup makes a group owned by the user bound to conn. Members are the
// creator followed by memberIDs exactly as given, without dedup or existence
// checks. Every bound member is sent group_created once.
func (s *Service) CreateGroup(ctx context.Context, conn registry.Conn, name string, memberIDs []string) (*models.Group, error) {
	userID, err := s.boundUser(conn)
	if err != nil {
		return nil, err
	}

	if name, err = s.sanitize(name, "Group name"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, malformed("Group name is required")
	}

	members := append([]string{userID}, memberIDs...)

	group := &models.Group{
		ID:        s.newID(),
		Name:      name,
		Members:   members,
		CreatedBy: userID,
		CreatedAt: s.nowMillis(),
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	s.log.Info("group created",
		zap.String("group", group.ID),
		zap.String("user", userID),
		zap.Int("members", len(members)))

	s.notifyMembers(group, protocol.TypeGroupCreated, protocol.GroupEnvelope{Group: group})
	return group, nil
}

// JoinGroup adds the user bound to conn to an existing group and tells every
// bound member, the joiner included.
func (s *Service) JoinGroup(ctx context.Context, conn registry.Conn, groupID string) (*models.Group, error) {
	userID, err := s.boundUser(conn)
	if err != nil {
		return nil, err
	}
	if groupID == "" {
		return nil, malformed("A groupId is required")
	}

	group, err := s.store.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}

	if !group.HasMember(userID) {
		if err := s.store.AddGroupMember(ctx, groupID, userID); err != nil {
			return nil, err
		}
		group.Members = append(group.Members, userID)
	}

	s.notifyMembers(group, protocol.TypeGroupJoined, protocol.GroupJoined{Group: group, UserID: userID})
	return group, nil
}

// ListGroups sends groups_list with every group the bound user belongs to.
func (s *Service) ListGroups(ctx context.Context, conn registry.Conn) error {
	userID, err := s.boundUser(conn)
	if err != nil {
		return err
	}
	groups, err := s.store.ListUserGroups(ctx, userID)
	if err != nil {
		return err
	}
	_ = s.send(conn, protocol.TypeGroupsList, protocol.GroupsList{Groups: groups})
	return nil
}

// notifyMembers sends one event per distinct bound connection among the
// group's members.
func (s *Service) notifyMembers(group *models.Group, msgType string, payload interface{}) {
	sent := make(map[string]bool, len(group.Members))
	for _, memberID := range group.Members {
		memberConn, ok := s.registry.Lookup(memberID)
		if !ok || sent[memberConn.ID()] {
			continue
		}
		sent[memberConn.ID()] = true
		_ = s.send(memberConn, msgType, payload)
	}
}
