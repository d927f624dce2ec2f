package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "pepitobot/pkg/logx"
)

// fileStore keeps two independent JSON documents on disk:
//
//	channels.json     server-id -> {"server_name": ..., "channel_id"?: ...}
//	reminder_log.json server-id -> RFC 3339 UTC timestamp
//
// Each operation reads the whole document, mutates it in memory, and writes
// it back via tmp+rename. Documents are re-read on every access so external
// edits between operations are picked up (last write wins).
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	channelsPath string
	reminderPath string
	closed       bool
}

type destRecord struct {
	ServerName string `json:"server_name"`
	ChannelID  string `json:"channel_id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	chPath := strings.TrimSpace(cfg.ChannelsPath)
	if chPath == "" {
		chPath = "./channels.json"
	}
	remPath := strings.TrimSpace(cfg.ReminderPath)
	if remPath == "" {
		remPath = "./reminder_log.json"
	}
	for _, p := range []string{chPath, remPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	s := &fileStore{log: log, channelsPath: chPath, reminderPath: remPath}

	// Fail fast on unreadable/corrupt documents instead of silently
	// starting with an empty registry.
	if _, err := s.readChannels(); err != nil {
		return nil, fmt.Errorf("channels document: %w", err)
	}
	if _, err := s.readReminders(); err != nil {
		return nil, fmt.Errorf("reminder document: %w", err)
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Destinations(ctx context.Context) ([]Destination, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, err := s.readChannels()
	if err != nil {
		return nil, err
	}
	out := make([]Destination, 0, len(m))
	for id, rec := range m {
		out = append(out, Destination{ServerID: id, ServerName: rec.ServerName, ChannelID: rec.ChannelID})
	}
	// map order is random; keep passes deterministic
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out, nil
}

func (s *fileStore) Destination(ctx context.Context, serverID string) (Destination, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Destination{}, false, ErrClosed
	}
	m, err := s.readChannels()
	if err != nil {
		return Destination{}, false, err
	}
	rec, ok := m[serverID]
	if !ok {
		return Destination{}, false, nil
	}
	return Destination{ServerID: serverID, ServerName: rec.ServerName, ChannelID: rec.ChannelID}, true, nil
}

func (s *fileStore) UpsertDestination(ctx context.Context, d Destination) error {
	_ = ctx
	if strings.TrimSpace(d.ServerID) == "" {
		return errors.New("empty server id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, err := s.readChannels()
	if err != nil {
		return err
	}
	m[d.ServerID] = destRecord{ServerName: d.ServerName, ChannelID: d.ChannelID}
	return writeDoc(s.channelsPath, m)
}

func (s *fileStore) RemoveDestination(ctx context.Context, serverID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, err := s.readChannels()
	if err != nil {
		return err
	}
	if _, ok := m[serverID]; !ok {
		return nil
	}
	delete(m, serverID)
	return writeDoc(s.channelsPath, m)
}

func (s *fileStore) LastReminder(ctx context.Context, serverID string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	m, err := s.readReminders()
	if err != nil {
		return time.Time{}, false, err
	}
	raw, ok := m[serverID]
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Unparseable entry behaves like "never reminded" but is logged,
		// since it will be rewritten on the next successful reminder.
		s.log.Warn("reminder ledger entry unparseable", logx.String("server_id", serverID), logx.String("raw", raw))
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

func (s *fileStore) PutReminder(ctx context.Context, serverID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m, err := s.readReminders()
	if err != nil {
		return err
	}
	m[serverID] = at.UTC().Truncate(time.Second).Format(time.RFC3339)
	return writeDoc(s.reminderPath, m)
}

func (s *fileStore) readChannels() (map[string]destRecord, error) {
	m := map[string]destRecord{}
	if err := readDoc(s.channelsPath, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *fileStore) readReminders() (map[string]string, error) {
	m := map[string]string{}
	if err := readDoc(s.reminderPath, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// readDoc decodes the whole document into out. A missing or empty file is
// treated as an empty document.
func readDoc(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}

// writeDoc replaces the whole document atomically (tmp + rename) so a crash
// mid-write never leaves a truncated document. Non-ASCII stays unescaped.
func writeDoc(path string, doc any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
