package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/family-crawler/internal/crawler"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported stages.
const (
	// StageTransition marks a lifecycle state change.
	StageTransition Stage = "TRANSITION"
	// StageHeartbeat carries a periodic counter snapshot.
	StageHeartbeat Stage = "HEARTBEAT"
)

// Event is one progress report for a crawl.
type Event struct {
	CrawlID string
	TS      time.Time
	Stage   Stage
	// From and To are set for transitions.
	From string
	To   string
	// Stats is the counter snapshot at TS.
	Stats crawler.StatsSnapshot
	// FrontierDepth and OutboundDepth report queue lengths at TS.
	FrontierDepth int
	OutboundDepth int
	// Note carries low-volume context such as a failure cause.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTransition:
		if e.To == "" {
			return errors.New("transition requires a target state")
		}
	case StageHeartbeat:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
