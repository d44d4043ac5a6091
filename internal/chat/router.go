package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/models"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

// SendMessage persists a message from the user bound to conn and delivers it.
//
// The sender always gets message_sent. A direct recipient that is online gets
// message_received, the stored status becomes delivered and the sender gets
// message_delivered. For groups every other bound member gets one
// message_received, and the status becomes delivered if at least one of them
// accepted it. Offline recipients are not retried.
func (s *Service) SendMessage(ctx context.Context, conn registry.Conn, p protocol.SendMessage) (*models.Message, error) {
	userID, err := s.boundUser(conn)
	if err != nil {
		return nil, err
	}
	sender, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		s.log.Warn("bound user missing from store", zap.String("user", userID))
		return nil, ErrUnknownSender
	}

	msgType := p.Type
	if msgType == "" {
		msgType = models.TypeText
	}
	if !models.ValidMessageType(msgType) {
		return nil, malformed("Unsupported message type %q", msgType)
	}

	content := p.Content
	if msgType == models.TypeText {
		if content, err = s.sanitize(content, "Message content"); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(content) == "" {
		return nil, malformed("Message content is required")
	}

	var group *models.Group
	switch {
	case p.GroupID != "":
		if group, err = s.store.GetGroupByID(ctx, p.GroupID); err != nil {
			return nil, err
		}
		if group == nil {
			return nil, ErrGroupNotFound
		}
	case p.RecipientID != "":
		recipient, err := s.store.GetUserByID(ctx, p.RecipientID)
		if err != nil {
			return nil, err
		}
		if recipient == nil {
			return nil, ErrRecipientNotFound
		}
	default:
		return nil, malformed("A recipientId or groupId is required")
	}

	msg := &models.Message{
		ID:         s.newID(),
		SenderID:   userID,
		SenderName: sender.Username,
		Content:    content,
		Type:       msgType,
		Timestamp:  s.nowMillis(),
		Status:     models.StatusSent,
		IsGroup:    group != nil,
	}
	if group != nil {
		msg.ConversationID = group.ID
	} else {
		msg.ConversationID = p.RecipientID
	}

	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.metrics.MessageStored(msg.IsGroup)

	_ = s.send(conn, protocol.TypeMessageSent, protocol.MessageEnvelope{Message: msg})

	if group != nil {
		err = s.deliverToGroup(ctx, msg, group)
	} else {
		err = s.deliverDirect(ctx, conn, msg)
	}
	return msg, err
}

func (s *Service) deliverDirect(ctx context.Context, senderConn registry.Conn, msg *models.Message) error {
	recipientConn, ok := s.registry.Lookup(msg.ConversationID)
	if !ok {
		s.log.Debug("recipient offline",
			zap.String("message", msg.ID),
			zap.String("recipient", msg.ConversationID))
		return nil
	}

	delivered := *msg
	delivered.Status = models.StatusDelivered
	if err := s.send(recipientConn, protocol.TypeMessageReceived, protocol.MessageEnvelope{Message: &delivered}); err != nil {
		return nil
	}
	s.metrics.Delivered()

	if err := s.store.SetMessageStatus(ctx, msg.ID, models.StatusDelivered); err != nil {
		return err
	}
	msg.Status = models.StatusDelivered

	_ = s.send(senderConn, protocol.TypeMessageDelivered, protocol.MessageRef{MessageID: msg.ID})
	return nil
}

func (s *Service) deliverToGroup(ctx context.Context, msg *models.Message, group *models.Group) error {
	delivered := *msg
	delivered.Status = models.StatusDelivered

	count := 0
	for _, memberID := range group.Members {
		if memberID == msg.SenderID {
			continue
		}
		memberConn, ok := s.registry.Lookup(memberID)
		if !ok {
			continue
		}
		if err := s.send(memberConn, protocol.TypeMessageReceived, protocol.MessageEnvelope{Message: &delivered}); err != nil {
			continue
		}
		s.metrics.Delivered()
		count++
	}

	if count == 0 {
		return nil
	}
	if err := s.store.SetMessageStatus(ctx, msg.ID, models.StatusDelivered); err != nil {
		return err
	}
	msg.Status = models.StatusDelivered
	return nil
}

// NotifyTyping relays a typing indicator to the direct recipient or to every
// other bound member of the group. Nothing is persisted.
func (s *Service) NotifyTyping(ctx context.Context, conn registry.Conn, p protocol.Typing) error {
	userID, err := s.boundUser(conn)
	if err != nil {
		return err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownSender
	}

	event := protocol.UserTyping{
		UserID:   userID,
		Username: user.Username,
		IsTyping: p.IsTyping,
	}

	switch {
	case p.GroupID != "":
		group, err := s.store.GetGroupByID(ctx, p.GroupID)
		if err != nil {
			return err
		}
		if group == nil {
			return ErrGroupNotFound
		}
		event.GroupID = group.ID
		for _, memberID := range group.Members {
			if memberID == userID {
				continue
			}
			if memberConn, ok := s.registry.Lookup(memberID); ok {
				_ = s.send(memberConn, protocol.TypeUserTyping, event)
			}
		}
	case p.RecipientID != "":
		if recipientConn, ok := s.registry.Lookup(p.RecipientID); ok {
			_ = s.send(recipientConn, protocol.TypeUserTyping, event)
		}
	default:
		return malformed("A recipientId or groupId is required")
	}
	return nil
}

// MarkRead sets a message's status to read and, if the original sender is
// online, sends them message_read. Repeated calls are allowed and re-send the
// receipt each time.
func (s *Service) MarkRead(ctx context.Context, conn registry.Conn, messageID string) error {
	if _, err := s.boundUser(conn); err != nil {
		return err
	}
	if messageID == "" {
		return malformed("A messageId is required")
	}

	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}

	if err := s.store.SetMessageStatus(ctx, messageID, models.StatusRead); err != nil {
		return err
	}

	if senderConn, ok := s.registry.Lookup(msg.SenderID); ok {
		_ = s.send(senderConn, protocol.TypeMessageRead, protocol.MessageRef{MessageID: messageID})
	}
	return nil
}
