package chat

import (
	"context"
	"sort"

	"github.com/Tyrowin/zodiacchat/internal/models"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

// GetMessages answers get_messages with recent history, oldest first.
//
// Group history requires membership. Direct history merges what the bound
// user sent to the peer with what the peer sent to the bound user. Each
// direction is read up to the limit before filtering, so fewer than limit
// messages may come back even when more exist.
func (s *Service) GetMessages(ctx context.Context, conn registry.Conn, p protocol.GetMessages) error {
	userID, err := s.boundUser(conn)
	if err != nil {
		return err
	}

	limit := p.Limit
	if limit <= 0 || limit > s.history {
		limit = s.history
	}

	var msgs []*models.Message
	switch {
	case p.GroupID != "":
		msgs, err = s.groupHistory(ctx, userID, p.GroupID, limit)
	case p.RecipientID != "":
		msgs, err = s.directHistory(ctx, userID, p.RecipientID, limit)
	default:
		return malformed("A recipientId or groupId is required")
	}
	if err != nil {
		return err
	}

	_ = s.send(conn, protocol.TypeMessagesList, protocol.MessagesList{
		RecipientID: p.RecipientID,
		GroupID:     p.GroupID,
		Messages:    msgs,
	})
	return nil
}

func (s *Service) groupHistory(ctx context.Context, userID, groupID string, limit int) ([]*models.Message, error) {
	group, err := s.store.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if !group.HasMember(userID) {
		return nil, ErrNotGroupMember
	}
	return s.store.ListConversationMessages(ctx, groupID, limit)
}

func (s *Service) directHistory(ctx context.Context, userID, peerID string, limit int) ([]*models.Message, error) {
	peer, err := s.store.GetUserByID(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if peer == nil {
		return nil, ErrRecipientNotFound
	}

	outgoing, err := s.store.ListConversationMessages(ctx, peerID, limit)
	if err != nil {
		return nil, err
	}
	var msgs []*models.Message
	for _, m := range outgoing {
		if !m.IsGroup && m.SenderID == userID {
			msgs = append(msgs, m)
		}
	}

	if peerID != userID {
		incoming, err := s.store.ListConversationMessages(ctx, userID, limit)
		if err != nil {
			return nil, err
		}
		for _, m := range incoming {
			if !m.IsGroup && m.SenderID == peerID {
				msgs = append(msgs, m)
			}
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	return msgs, nil
}
