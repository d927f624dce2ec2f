// Package reminder nudges servers that registered the bot but never picked a
// delivery channel. One sweep runs on a cron schedule; each server is
// reminded at most once per 24 hours, tracked in the store's ledger.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pepitobot/internal/registry"
	"pepitobot/internal/store"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

// minInterval is the per-server reminder floor, independent of the sweep
// schedule: a tighter cron spec still reminds each server at most daily.
const minInterval = 24 * time.Hour

type Config struct {
	Enabled bool
	// Every is a cron spec ("0 12 * * *") or descriptor ("@every 24h").
	// Default "@every 24h".
	Every string
}

type Service struct {
	log logx.Logger
	cfg Config
	gw  kit.Gateway
	reg *registry.Service
	st  store.Store

	cron *cron.Cron
	wg   sync.WaitGroup
	now  func() time.Time
}

func New(cfg Config, gw kit.Gateway, reg *registry.Service, st store.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Every == "" {
		cfg.Every = "@every 24h"
	}
	return &Service{
		log: log,
		cfg: cfg,
		gw:  gw,
		reg: reg,
		st:  st,
		now: time.Now,
	}
}

// Start schedules the sweep and runs one immediately in the background. The
// caller brings the gateway up first, so the initial pass sees live
// membership; the per-server ledger keeps frequent restarts from turning
// the initial pass into owner spam.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("reminders disabled")
		return nil
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	_, err := c.AddFunc(s.cfg.Every, func() {
		if err := s.Sweep(ctx); err != nil {
			s.log.Warn("reminder sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("reminder schedule %q: %w", s.cfg.Every, err)
	}
	c.Start()
	s.cron = c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("initial reminder sweep failed", logx.Err(err))
		}
	}()
	s.log.Info("reminders scheduled", logx.String("every", s.cfg.Every))
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.wg.Wait()
}

// Sweep walks the registry once and reminds every server that is still
// unconfigured, still reachable, and past its 24 hour window. Per-server
// failures are logged and skipped; the sweep itself fails only when the
// registry cannot be read.
func (s *Service) Sweep(ctx context.Context) error {
	dests, err := s.reg.Snapshot(ctx)
	if err != nil {
		return err
	}
	var sent, skipped int
	for _, d := range dests {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := s.remindOne(ctx, d)
		if err != nil {
			s.log.Warn("reminder skipped",
				logx.String("server_id", d.ServerID), logx.String("server_name", d.ServerName), logx.Err(err))
			skipped++
			continue
		}
		if ok {
			sent++
		}
	}
	s.log.Info("reminder sweep done",
		logx.Int("servers", len(dests)), logx.Int("sent", sent), logx.Int("skipped", skipped))
	return nil
}

// remindOne reports (true, nil) when a reminder was sent, (false, nil) when
// the server needed none, and an error when the server was eligible but the
// attempt failed. The ledger is updated only after a successful send, so a
// failed server stays due on the next sweep.
func (s *Service) remindOne(ctx context.Context, d store.Destination) (bool, error) {
	if d.Configured() {
		return false, nil
	}
	last, has, err := s.st.LastReminder(ctx, d.ServerID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if has && now.Sub(last) < minInterval {
		return false, nil
	}

	// membership probe: a server the bot was silently removed from is
	// skipped, not purged (removal is driven by platform updates).
	srv, err := s.gw.Member(ctx, d.ServerID)
	if err != nil {
		return false, fmt.Errorf("membership probe: %w", err)
	}
	if srv.Name != "" && srv.Name != d.ServerName {
		d.ServerName = srv.Name
	}

	target, err := s.pickTarget(ctx, d.ServerID)
	if err != nil {
		return false, err
	}

	text := s.renderReminder(ctx, d)
	if _, err := s.gw.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}
	if err := s.st.PutReminder(ctx, d.ServerID, now.UTC()); err != nil {
		// the reminder went out; a ledger write failure means the server
		// may be nagged again next sweep, which beats staying silent.
		s.log.Warn("reminder ledger write failed",
			logx.String("server_id", d.ServerID), logx.Err(err))
	}
	s.log.Info("reminder sent",
		logx.String("server_id", d.ServerID), logx.String("server_name", d.ServerName))
	return true, nil
}

// pickTarget returns the first channel the bot may post to, in the
// platform's natural channel order.
func (s *Service) pickTarget(ctx context.Context, serverID string) (kit.ChatTarget, error) {
	chans, err := s.gw.Channels(ctx, serverID)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range chans {
		if s.gw.CanSend(ctx, ch.Target) {
			return ch.Target, nil
		}
	}
	return kit.ChatTarget{}, fmt.Errorf("no sendable channel")
}

func (s *Service) renderReminder(ctx context.Context, d store.Destination) string {
	mention := "admins"
	if owner, err := s.gw.Owner(ctx, d.ServerID); err == nil {
		switch {
		case owner.Username != "":
			mention = "@" + owner.Username
		case owner.FirstName != "":
			mention = owner.FirstName
		}
	} else {
		s.log.Debug("owner lookup failed", logx.String("server_id", d.ServerID), logx.Err(err))
	}
	return fmt.Sprintf(
		"Hi %s! This group has no notification channel set up yet, so Pépito updates are not being delivered. Run /setchannel in the topic where you want them.",
		mention,
	)
}
