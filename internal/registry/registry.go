// Package registry owns the destination lifecycle on top of the store:
// servers appear when first observed, gain a channel only through explicit
// configuration, and disappear when the bot is removed from them.
package registry

import (
	"context"

	"pepitobot/internal/store"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

type Service struct {
	log   logx.Logger
	store store.Store
}

func New(st store.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, store: st}
}

// Observe ensures the server has a registry entry and refreshes a stale
// display name. It never touches the configured channel, so it is safe to
// call from any traffic the bot sees (join events, group messages, sweeps).
func (s *Service) Observe(ctx context.Context, srv kit.Server) error {
	if srv.ID == "" {
		return nil
	}
	d, ok, err := s.store.Destination(ctx, srv.ID)
	if err != nil {
		return err
	}
	if ok {
		if srv.Name == "" || d.ServerName == srv.Name {
			return nil
		}
		d.ServerName = srv.Name
		return s.store.UpsertDestination(ctx, d)
	}
	s.log.Info("destination observed", logx.String("server_id", srv.ID), logx.String("server_name", srv.Name))
	return s.store.UpsertDestination(ctx, store.Destination{ServerID: srv.ID, ServerName: srv.Name})
}

// Configure sets (or replaces) the delivery channel for a server.
// Re-configuring is idempotent per server: the last channel wins.
func (s *Service) Configure(ctx context.Context, srv kit.Server, channelID string) error {
	err := s.store.UpsertDestination(ctx, store.Destination{
		ServerID:   srv.ID,
		ServerName: srv.Name,
		ChannelID:  channelID,
	})
	if err != nil {
		return err
	}
	s.log.Info("destination configured",
		logx.String("server_id", srv.ID), logx.String("server_name", srv.Name), logx.String("channel_id", channelID))
	return nil
}

// Remove deletes a server's entry (the bot was removed from the server).
func (s *Service) Remove(ctx context.Context, serverID string) error {
	if err := s.store.RemoveDestination(ctx, serverID); err != nil {
		return err
	}
	s.log.Info("destination removed", logx.String("server_id", serverID))
	return nil
}

// Snapshot returns the current registry contents. The slice is a copy; it
// may go stale while a delivery pass iterates it, which is accepted
// (last write wins).
func (s *Service) Snapshot(ctx context.Context) ([]store.Destination, error) {
	return s.store.Destinations(ctx)
}
