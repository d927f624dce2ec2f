// Package relay classifies decoded stream events and fans domain events out
// to every configured destination.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"pepitobot/internal/registry"
	"pepitobot/internal/store"
	"pepitobot/internal/stream"
	kit "pepitobot/internal/transport"
	logx "pepitobot/pkg/logx"
)

// ErrMalformedEvent marks a domain event missing a required field; the whole
// event is dropped, never partially delivered.
var ErrMalformedEvent = errors.New("malformed event")

// DeliveryError records one failed destination in a fan-out pass. Failures
// are collected, not propagated: one bad destination never aborts the batch.
type DeliveryError struct {
	ServerID   string
	ServerName string
	ChannelID  string
	Err        error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (server %s): %v", e.ChannelID, e.ServerID, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	// Timezone for event time rendering. Default Europe/Oslo.
	Timezone string
	// RatePerSec caps outbound sends across a pass. Default 25.
	RatePerSec int
	// RetryMax is the number of additional attempts per destination. Default 2.
	RetryMax int
}

// Engine delivers one rendered event to every configured destination,
// best-effort and independently per destination. It holds read-only access
// to the registry; a configuration write racing a pass is accepted.
type Engine struct {
	log logx.Logger
	gw  kit.Gateway
	reg *registry.Service

	loc      *time.Location
	limiter  *rate.Limiter
	retryMax int
}

func NewEngine(cfg Config, gw kit.Gateway, reg *registry.Service, log logx.Logger) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "Europe/Oslo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("relay timezone: %w", err)
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	return &Engine{
		log:      log,
		gw:       gw,
		reg:      reg,
		loc:      loc,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		retryMax: retryMax,
	}, nil
}

// Deliver renders ev once and sends it to every destination with a
// configured channel. It has no caller-facing result: outcomes are logged,
// per destination and as a batch summary.
func (e *Engine) Deliver(ctx context.Context, ev stream.Event) {
	if ev.Type == "" || ev.Time == 0 || ev.Img == "" {
		e.log.Warn("event dropped",
			logx.Err(ErrMalformedEvent),
			logx.String("type", ev.Type), logx.Int64("time", ev.Time), logx.String("img", ev.Img))
		return
	}

	title := renderTitle(ev.Type, formatEventTime(ev.Time, e.loc))
	photo := kit.Photo{URL: ev.Img, Caption: title}

	dests, err := e.reg.Snapshot(ctx)
	if err != nil {
		e.log.Error("registry snapshot failed; event not delivered", logx.Err(err))
		return
	}

	start := time.Now()
	var sent int
	var failures []DeliveryError
	for _, d := range dests {
		if !d.Configured() {
			continue
		}
		if err := e.sendPhoto(ctx, d, photo); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures = append(failures, DeliveryError{
				ServerID: d.ServerID, ServerName: d.ServerName, ChannelID: d.ChannelID, Err: err,
			})
			continue
		}
		sent++
	}

	fields := []logx.Field{
		logx.String("title", title),
		logx.Int("sent", sent),
		logx.Int("failed", len(failures)),
		logx.Duration("took", time.Since(start)),
	}
	if len(failures) > 0 {
		e.log.Warn("event fanned out with failures", fields...)
	} else {
		e.log.Info("event fanned out", fields...)
	}
}

func (e *Engine) sendPhoto(ctx context.Context, d store.Destination, photo kit.Photo) error {
	target, err := kit.ParseChannelID(d.ChannelID)
	if err != nil {
		// channel no longer resolvable
		e.log.Warn("destination channel unresolvable",
			logx.String("server_id", d.ServerID), logx.String("server_name", d.ServerName),
			logx.String("channel_id", d.ChannelID), logx.Err(err))
		return err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	var last error
	for i := 0; i <= e.retryMax; i++ {
		_, err := e.gw.SendPhoto(ctx, target, photo, nil)
		if err == nil {
			if i > 0 {
				e.log.Debug("send succeeded after retry",
					logx.String("server_id", d.ServerID), logx.Int("attempt", i+1))
			}
			return nil
		}
		last = err
		if i == e.retryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	e.log.Warn("send failed",
		logx.String("server_id", d.ServerID), logx.String("server_name", d.ServerName),
		logx.String("channel_id", d.ChannelID), logx.Err(last))
	return last
}

// Announce broadcasts a plain text message to every configured destination
// and returns the display names of servers that could not be reached. Unlike
// Deliver, the outcome is reported back to the invoking operator.
func (e *Engine) Announce(ctx context.Context, text string) ([]string, error) {
	dests, err := e.reg.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, d := range dests {
		if !d.Configured() {
			continue
		}
		target, err := kit.ParseChannelID(d.ChannelID)
		if err != nil {
			failed = append(failed, d.ServerName)
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return failed, err
		}
		if _, err := e.gw.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			e.log.Warn("announcement send failed",
				logx.String("server_id", d.ServerID), logx.String("server_name", d.ServerName), logx.Err(err))
			failed = append(failed, d.ServerName)
		}
	}
	return failed, nil
}
