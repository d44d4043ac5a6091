package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/models"
	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

// Register creates a new user, binds conn to it and announces the updated
// roster. It fails with ErrDuplicateUsername when the name is taken.
func (s *Service) Register(ctx context.Context, conn registry.Conn, username, zodiac string) (*models.User, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateUsername
	}

	user, err := s.createUser(ctx, username, zodiac)
	if err != nil {
		return nil, err
	}

	s.bind(conn, user)
	_ = s.send(conn, protocol.TypeRegisterSuccess, sessionOf(user))

	return user, s.BroadcastRoster(ctx)
}

// Authenticate binds conn to the user named username, creating the user on
// first sight. There is no credential check: the username alone is the
// identity.
func (s *Service) Authenticate(ctx context.Context, conn registry.Conn, username, zodiac string) (*models.User, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.log.Info("auto-registering user", zap.String("username", username))
		if user, err = s.createUser(ctx, username, zodiac); err != nil {
			return nil, err
		}
	}

	s.bind(conn, user)
	_ = s.send(conn, protocol.TypeAuthSuccess, sessionOf(user))

	groups, err := s.store.ListUserGroups(ctx, user.ID)
	if err != nil {
		return user, err
	}
	_ = s.send(conn, protocol.TypeGroupsList, protocol.GroupsList{Groups: groups})

	return user, s.BroadcastRoster(ctx)
}

func (s *Service) createUser(ctx context.Context, username, zodiac string) (*models.User, error) {
	user := &models.User{
		ID:       s.newID(),
		Username: username,
		Zodiac:   strings.TrimSpace(zodiac),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user created", zap.String("user", user.ID), zap.String("username", user.Username))
	return user, nil
}

func (s *Service) bind(conn registry.Conn, user *models.User) {
	s.registry.Bind(user.ID, conn)
	s.metrics.SetBoundUsers(s.registry.Len())
	s.log.Info("connection bound",
		zap.String("conn", conn.ID()),
		zap.String("user", user.ID),
		zap.String("username", user.Username))
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", malformed("Username is required")
	}
	return username, nil
}

func sessionOf(u *models.User) protocol.Session {
	return protocol.Session{UserID: u.ID, Username: u.Username, Zodiac: u.Zodiac}
}
