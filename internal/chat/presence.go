package chat

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/protocol"
	"github.com/Tyrowin/zodiacchat/internal/registry"
)

// roster lists every stored user, sorted by username, with presence taken
// from the registry.
func (s *Service) roster(ctx context.Context) ([]protocol.RosterEntry, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.RosterEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, protocol.RosterEntry{
			ID:       u.ID,
			Username: u.Username,
			Zodiac:   u.Zodiac,
			IsOnline: s.registry.IsOnline(u.ID),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// BroadcastRoster pushes users_list to every bound connection. It reads the
// full user set on every call.
func (s *Service) BroadcastRoster(ctx context.Context) error {
	entries, err := s.roster(ctx)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(protocol.TypeUsersList, protocol.UsersList{Users: entries})
	if err != nil {
		return err
	}
	for _, conn := range s.registry.ListAll() {
		if err := conn.Send(data); err != nil {
			s.log.Debug("roster not accepted", zap.String("conn", conn.ID()), zap.Error(err))
		}
	}
	return nil
}

// ListUsers answers get_users with the roster for the requesting connection.
func (s *Service) ListUsers(ctx context.Context, conn registry.Conn) error {
	if _, err := s.boundUser(conn); err != nil {
		return err
	}
	entries, err := s.roster(ctx)
	if err != nil {
		return err
	}
	_ = s.send(conn, protocol.TypeUsersList, protocol.UsersList{Users: entries})
	return nil
}

// Disconnect drops conn's binding and, if it had one, re-broadcasts the
// roster. It is safe to call for connections that never authenticated.
func (s *Service) Disconnect(ctx context.Context, conn registry.Conn) {
	userID, ok := s.registry.Release(conn)
	if !ok {
		return
	}
	s.metrics.SetBoundUsers(s.registry.Len())
	s.log.Info("user disconnected", zap.String("conn", conn.ID()), zap.String("user", userID))

	if err := s.BroadcastRoster(ctx); err != nil {
		s.log.Warn("roster broadcast after disconnect failed", zap.Error(err))
	}
}
