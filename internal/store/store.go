package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "pepitobot/pkg/logx"
)

var ErrClosed = errors.New("store closed")

// Destination is one registered server. An empty ChannelID means the
// destination is unconfigured: ineligible for fan-out, eligible for reminders.
type Destination struct {
	ServerID   string
	ServerName string
	ChannelID  string
}

func (d Destination) Configured() bool { return d.ChannelID != "" }

// Store persists the destination registry and the reminder ledger.
//
// Every operation is an atomic whole-document read-modify-write so a crash
// mid-operation never leaves a partially written document behind. Operations
// return an error when the backing store cannot be read or written; callers
// log and skip rather than acting on partial data.
type Store interface {
	Destinations(ctx context.Context) ([]Destination, error)
	Destination(ctx context.Context, serverID string) (Destination, bool, error)
	UpsertDestination(ctx context.Context, d Destination) error
	RemoveDestination(ctx context.Context, serverID string) error

	LastReminder(ctx context.Context, serverID string) (time.Time, bool, error)
	PutReminder(ctx context.Context, serverID string, at time.Time) error

	Close() error
}

type Config struct {
	Driver string

	// file driver
	ChannelsPath string
	ReminderPath string

	// sqlite driver
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
