//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "pepitobot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Destinations(ctx context.Context) ([]Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id, server_name, COALESCE(channel_id, '') FROM destinations ORDER BY server_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		var d Destination
		if err := rows.Scan(&d.ServerID, &d.ServerName, &d.ChannelID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Destination(ctx context.Context, serverID string) (Destination, bool, error) {
	var d Destination
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id, server_name, COALESCE(channel_id, '') FROM destinations WHERE server_id = ?`,
		serverID).Scan(&d.ServerID, &d.ServerName, &d.ChannelID)
	if errors.Is(err, sql.ErrNoRows) {
		return Destination{}, false, nil
	}
	if err != nil {
		return Destination{}, false, err
	}
	return d, true, nil
}

func (s *sqliteStore) UpsertDestination(ctx context.Context, d Destination) error {
	if strings.TrimSpace(d.ServerID) == "" {
		return errors.New("empty server id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(server_id, server_name, channel_id) VALUES(?,?,?)
		 ON CONFLICT(server_id) DO UPDATE SET server_name = excluded.server_name, channel_id = excluded.channel_id`,
		d.ServerID, d.ServerName, nullStr(d.ChannelID))
	return err
}

func (s *sqliteStore) RemoveDestination(ctx context.Context, serverID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE server_id = ?`, serverID)
	return err
}

func (s *sqliteStore) LastReminder(ctx context.Context, serverID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_reminder_at FROM reminders WHERE server_id = ?`, serverID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.log.Warn("reminder ledger entry unparseable", logx.String("server_id", serverID), logx.String("raw", raw))
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

func (s *sqliteStore) PutReminder(ctx context.Context, serverID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(server_id, last_reminder_at) VALUES(?,?)
		 ON CONFLICT(server_id) DO UPDATE SET last_reminder_at = excluded.last_reminder_at`,
		serverID, at.UTC().Truncate(time.Second).Format(time.RFC3339))
	return err
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
