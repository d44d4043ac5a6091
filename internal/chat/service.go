// Package chat implements the relay's event handlers: registration and
// authentication, message routing with receipts, typing indicators, groups,
// history queries and presence broadcasts.
//
// Each connection's events are handled in order by the caller's goroutine.
// Handlers read and write the store directly and deliver to other users
// through the registry.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/metrics"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
	"github.com/Tyrowin/zodiacchat/internal/sanitize"
	"github.com/Tyrowin/zodiacchat/internal/store"
)

// DefaultHistoryLimit caps get_messages when neither the request nor the
// configuration sets a limit.
const DefaultHistoryLimit = 50

// Options carries the optional collaborators of a Service. Zero values fall
// back to a no-op logger, no metrics, no sanitizing, the wall clock and
// random UUIDs.
type Options struct {
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Sanitizer    *sanitize.Text
	Now          func() time.Time
	NewID        func() string
	HistoryLimit int
}

// Service handles decoded client events.
type Service struct {
	store    *store.Store
	registry *registry.Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
	clean    *sanitize.Text
	now      func() time.Time
	newID    func() string
	history  int
}

// New wires a Service to its store and registry.
func New(st *store.Store, reg *registry.Registry, opts Options) *Service {
	s := &Service{
		store:    st,
		registry: reg,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		clean:    opts.Sanitizer,
		now:      opts.Now,
		newID:    opts.NewID,
		history:  opts.HistoryLimit,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.history <= 0 {
		s.history = DefaultHistoryLimit
	}
	return s
}

// Dispatch decodes one inbound frame and runs its handler. Failures are
// reported to conn as an error event; the connection stays open.
func (s *Service) Dispatch(ctx context.Context, conn registry.Conn, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.log.Debug("undecodable frame", zap.String("conn", conn.ID()), zap.Error(err))
		s.metrics.EventFailed("invalid")
		s.sendError(conn, ErrMalformedInput)
		return
	}

	s.metrics.EventReceived(env.Type)
	if err := s.handle(ctx, conn, env); err != nil {
		s.metrics.EventFailed(env.Type)
		s.log.Info("event failed",
			zap.String("conn", conn.ID()),
			zap.String("type", env.Type),
			zap.Error(err))
		s.sendError(conn, err)
	}
}

func (s *Service) handle(ctx context.Context, conn registry.Conn, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeRegister:
		var p protocol.Credentials
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		_, err := s.Register(ctx, conn, p.Username, p.Zodiac)
		return err

	case protocol.TypeAuth:
		var p protocol.Credentials
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		_, err := s.Authenticate(ctx, conn, p.Username, p.Zodiac)
		return err

	case protocol.TypeMessage:
		var p protocol.SendMessage
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		_, err := s.SendMessage(ctx, conn, p)
		return err

	case protocol.TypeTyping:
		var p protocol.Typing
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		return s.NotifyTyping(ctx, conn, p)

	case protocol.TypeRead:
		var p protocol.Read
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		return s.MarkRead(ctx, conn, p.MessageID)

	case protocol.TypeCreateGroup:
		var p protocol.CreateGroup
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		_, err := s.CreateGroup(ctx, conn, p.Name, p.MemberIDs)
		return err

	case protocol.TypeJoinGroup:
		var p protocol.JoinGroup
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		_, err := s.JoinGroup(ctx, conn, p.GroupID)
		return err

	case protocol.TypeGetGroups:
		return s.ListGroups(ctx, conn)

	case protocol.TypeGetUsers:
		return s.ListUsers(ctx, conn)

	case protocol.TypeGetMessages:
		var p protocol.GetMessages
		if err := env.UnmarshalPayload(&p); err != nil {
			return ErrMalformedInput
		}
		return s.GetMessages(ctx, conn, p)

	default:
		return ErrUnknownType
	}
}

// send encodes payload and enqueues it on conn. The returned error is non-nil
// when the frame was not accepted.
func (s *Service) send(conn registry.Conn, msgType string, payload interface{}) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.log.Error("encode outbound event", zap.String("type", msgType), zap.Error(err))
		return err
	}
	if err := conn.Send(data); err != nil {
		s.log.Debug("outbound event not accepted",
			zap.String("conn", conn.ID()),
			zap.String("type", msgType),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) sendError(conn registry.Conn, err error) {
	_ = s.send(conn, protocol.TypeError, protocol.Error{Error: ClientMessage(err)})
}

// boundUser resolves the user bound to conn.
func (s *Service) boundUser(conn registry.Conn) (string, error) {
	userID, ok := s.registry.UserOf(conn)
	if !ok {
		return "", ErrNotAuthenticated
	}
	return userID, nil
}

// sanitize passes text through unchanged unless a sanitizer is configured and
// finds markup in it.
func (s *Service) sanitize(text, field string) (string, error) {
	if s.clean == nil {
		return text, nil
	}
	clean, err := s.clean.Clean(text)
	if err != nil {
		return "", malformed("%s must not contain markup", field)
	}
	return clean, nil
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}
