package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Stream configures the inbound event-stream connection.
	Stream StreamConfig `json:"stream"`

	// Store configures the registry/ledger backing store.
	// Changing it requires a restart.
	Store StoreConfig `json:"store,omitempty"`

	Relay    RelayConfig    `json:"relay,omitempty"`
	Reminder ReminderConfig `json:"reminder,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs are operator accounts allowed to run owner-only
	// commands (/announce).
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id (decimal string) receiving operator log lines.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StreamConfig controls the SSE ingestion client.
//
// All durations are Go duration strings.
type StreamConfig struct {
	URL string `json:"url"`
	// Backoff is the fixed wait between reconnect attempts. Default "5s".
	Backoff string `json:"backoff,omitempty"`
	// IdleTimeout aborts a connection that delivered nothing (not even
	// heartbeats) for this long. "0s" disables the check. Default "90s".
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// StoreConfig controls the persistence layer.
//
// Drivers:
//   - "file" (default): two JSON documents, one for destinations and one
//     for the reminder ledger.
//   - "sqlite": single database file (requires the sqlite build tag).
type StoreConfig struct {
	Driver string `json:"driver,omitempty"`

	// file driver
	ChannelsPath string `json:"channels_path,omitempty"` // default "./channels.json"
	ReminderPath string `json:"reminder_path,omitempty"` // default "./reminder_log.json"

	// sqlite driver
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// RelayConfig controls event rendering and fan-out delivery.
type RelayConfig struct {
	// Timezone for event time rendering. Default "Europe/Oslo".
	Timezone string `json:"timezone,omitempty"`
	// RatePerSec caps outbound sends across a fan-out pass. Default 25.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// RetryMax is the number of additional attempts per destination. Default 2.
	RetryMax int `json:"retry_max,omitempty"`
}

// ReminderConfig controls the unconfigured-destination reminder sweep.
type ReminderConfig struct {
	Enabled bool `json:"enabled"`
	// Every is a cron spec or descriptor for the sweep trigger.
	// Default "@every 24h". The per-server 24h gate is independent of it.
	Every string `json:"every,omitempty"`
}
