package relay

import (
	"fmt"
	"time"
)

// formatEventTime renders a source epoch timestamp as a wall-clock time in
// the relay's display zone.
func formatEventTime(epoch int64, loc *time.Location) string {
	return time.Unix(epoch, 0).In(loc).Format("15:04:05")
}

// renderTitle builds the message title for a door event. "in" gets the
// friendly phrasing; every other motion state is interpolated as-is.
func renderTitle(kind, clock string) string {
	if kind == "in" {
		return fmt.Sprintf("Pépito is back home! (%s)", clock)
	}
	return fmt.Sprintf("Pépito is %s! (%s)", kind, clock)
}
