package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateJoined fires when the bot is added to a server (group chat).
	UpdateJoined UpdateKind = "joined"
	// UpdateLeft fires when the bot is removed from a server.
	UpdateLeft UpdateKind = "left"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Server  *Server // set for joined/left updates
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	ChatTitle    string
}

// Server identifies a chat-platform server the bot can deliver into.
// ID is the decimal string form of the platform's 64-bit chat id; it is
// treated as opaque everywhere outside the adapter.
type Server struct {
	ID   string
	Name string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Channel is a delivery-capable location inside a server.
type Channel struct {
	Target ChatTarget
	Name   string
}

type User struct {
	ID        int64
	Username  string
	FirstName string
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is a titled image message (the fan-out payload).
type Photo struct {
	URL     string
	Caption string
}

// Gateway is the narrow chat-platform boundary the core talks to.
//
// Send calls are blocking network operations and honor ctx. Query methods
// (Channels/CanSend/Owner/Member/IsAdmin) read the platform's live state and
// may fail transiently; callers treat failures as "skip", not as fatal.
type Gateway interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, opt *SendOptions) (MessageRef, error)

	// Channels enumerates delivery-capable channels of a server in the
	// platform's natural order.
	Channels(ctx context.Context, serverID string) ([]Channel, error)
	// CanSend reports whether the bot may post to the target right now.
	CanSend(ctx context.Context, to ChatTarget) bool
	// Owner resolves the server's owner (creator) for reminder mentions.
	Owner(ctx context.Context, serverID string) (User, error)
	// Member probes current membership and returns the server's live name.
	Member(ctx context.Context, serverID string) (Server, error)
	// IsAdmin reports whether the user administers the server.
	IsAdmin(ctx context.Context, serverID string, userID int64) (bool, error)
}
