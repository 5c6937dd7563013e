package acquire

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Lane identifies an acquisition strategy.
type Lane string

const (
	LaneAuto        Lane = "auto"
	LaneAttachments Lane = "lane1_attachments"
	LaneDirect      Lane = "lane2_direct"
	LaneInteractive Lane = "lane3_interactive"
	// LaneAgentic is the agent-driven Lane 3 backend. It is reachable as an explicit
	// policy override and as the escalation target of the browser backend.
	LaneAgentic Lane = "lane3_agentic"
	LaneUnknown Lane = "unknown"
)

var laneAliases = map[string]Lane{
	"":                  LaneAuto,
	"auto":              LaneAuto,
	"lane1":             LaneAttachments,
	"lane1_attachments": LaneAttachments,
	"attachments":       LaneAttachments,
	"lane2":             LaneDirect,
	"lane2_direct":      LaneDirect,
	"direct":            LaneDirect,
	"lane3":             LaneInteractive,
	"lane3_interactive": LaneInteractive,
	"interactive":       LaneInteractive,
	"lane3_agentic":     LaneAgentic,
	"agentic":           LaneAgentic,
}

// ParseLane validates a configured lane value. Unknown values are rejected so that an
// invalid policy never reaches the decision matrix.
func ParseLane(s string) (Lane, error) {
	l, ok := laneAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", eris.Errorf("invalid lane %q", s)
	}
	return l, nil
}

// Dispatchable reports whether the lane names a concrete strategy.
func (l Lane) Dispatchable() bool {
	switch l {
	case LaneAttachments, LaneDirect, LaneInteractive, LaneAgentic:
		return true
	}
	return false
}

func (l Lane) String() string { return string(l) }
