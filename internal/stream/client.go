// Package stream maintains the long-lived connection to the external event
// source and turns its line framing into a channel of decoded events.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "pepitobot/pkg/logx"
)

const dataPrefix = "data:"

type Config struct {
	URL string
	// Backoff is the fixed wait between reconnect attempts. Default 5s.
	Backoff time.Duration
	// IdleTimeout drops a connection that produced no line (not even a
	// heartbeat) for this long. 0 disables the check.
	IdleTimeout time.Duration
}

// Client reads the event stream and never gives up: any connect failure,
// non-200 response, or mid-stream error leads to a logged backoff and a
// fresh connection attempt, for the lifetime of the process.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("stream url is empty")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// No overall client timeout: the response body is an endless stream.
	// Stall detection is handled by IdleTimeout instead.
	return &Client{cfg: cfg, log: log, http: &http.Client{}}, nil
}

// Run connects, consumes, and reconnects until ctx is canceled. Decoded
// non-heartbeat events are delivered to out in arrival order. The only
// return value is ctx.Err().
func (c *Client) Run(ctx context.Context, out chan<- Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.consume(ctx, out)
		if err := ctx.Err(); err != nil {
			return err
		}
		c.log.Warn("stream disconnected; will retry",
			logx.String("url", c.cfg.URL), logx.Err(err), logx.Duration("backoff", c.cfg.Backoff))

		t := time.NewTimer(c.cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// consume runs one connection to completion. It returns a non-nil error for
// every way a connection can end other than ctx cancellation; per-line decode
// failures are skipped and do not end the connection.
func (c *Client) consume(ctx context.Context, out chan<- Event) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused, then bail.
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	c.log.Info("stream connected", logx.String("url", c.cfg.URL))

	// Idle watchdog: cancel the in-flight read if the server goes silent.
	var idle *time.Timer
	if c.cfg.IdleTimeout > 0 {
		idle = time.AfterFunc(c.cfg.IdleTimeout, cancel)
		defer idle.Stop()
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		if idle != nil {
			idle.Reset(c.cfg.IdleTimeout)
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// A bad line must not break the stream.
			c.log.Debug("undecodable stream line skipped", logx.String("line", truncate(line, 200)), logx.Err(err))
			continue
		}
		if ev.Event == EventHeartbeat {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- ev:
		}
	}

	if err := sc.Err(); err != nil {
		if connCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("no data for %s, dropping connection", c.cfg.IdleTimeout)
		}
		return err
	}
	return errors.New("stream closed by server")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
