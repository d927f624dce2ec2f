package stream

// Event is one decoded payload from the event stream.
//
// Every payload carries at least the Event tag. Domain payloads
// (Event == EventDomain) additionally carry Type/Time/Img; their presence is
// validated by the fan-out engine, not here.
type Event struct {
	Event string `json:"event"`
	Type  string `json:"type"`
	Time  int64  `json:"time"` // epoch seconds, source clock
	Img   string `json:"img"`
}

const (
	// EventHeartbeat is the stream's keep-alive tag; filtered before dispatch.
	EventHeartbeat = "heartbeat"
	// EventDomain tags cat-door events, the only payloads that get fanned out.
	EventDomain = "pepito"
)
