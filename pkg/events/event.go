// Package events defines the typed bidirectional events described in
// spec.md §4.G, plus the session-level out-of-band listener topic used by
// forward_event/send_event.
package events

// Type enumerates the event kinds named in spec.md §4.G, mirrored from the
// original header's GF_FEVT_* enumeration (see
// _examples/original_source/include/gpac/filters.h) to keep constant
// meaning stable for anything built against this core.
type Type int

const (
	Play Type = iota + 1
	SetSpeed
	Stop
	Pause
	Resume
	SourceSeek
	SourceSwitch
	AttachScene
	ResetScene
	QualitySwitch
	VisibilityHint
	InfoUpdate
	BufferReq
	CapsChange
	Mouse
)

// Direction says which way along the PID graph an event travels.
type Direction int

const (
	// Downstream commands (play, seek, ...) flow toward the source.
	Downstream Direction = iota
	// Upstream notifications (info-update, buffer-req, ...) flow toward
	// the sink.
	Upstream
)

// downstreamTypes is the set of event Types that propagate toward sources;
// everything else propagates toward sinks (spec.md §4.G).
var downstreamTypes = map[Type]bool{
	Play:           true,
	SetSpeed:       true,
	Stop:           true,
	Pause:          true,
	Resume:         true,
	SourceSeek:     true,
	SourceSwitch:   true,
	AttachScene:    true,
	ResetScene:     true,
	QualitySwitch:  true,
	VisibilityHint: true,
	Mouse:          true,
}

// DirectionOf returns the canonical propagation direction for t.
func DirectionOf(t Type) Direction {
	if downstreamTypes[t] {
		return Downstream
	}
	return Upstream
}

func (t Type) String() string {
	switch t {
	case Play:
		return "Play"
	case SetSpeed:
		return "SetSpeed"
	case Stop:
		return "Stop"
	case Pause:
		return "Pause"
	case Resume:
		return "Resume"
	case SourceSeek:
		return "SourceSeek"
	case SourceSwitch:
		return "SourceSwitch"
	case AttachScene:
		return "AttachScene"
	case ResetScene:
		return "ResetScene"
	case QualitySwitch:
		return "QualitySwitch"
	case VisibilityHint:
		return "VisibilityHint"
	case InfoUpdate:
		return "InfoUpdate"
	case BufferReq:
		return "BufferReq"
	case CapsChange:
		return "CapsChange"
	case Mouse:
		return "Mouse"
	default:
		return "Unknown"
	}
}

// Event is a typed, optionally PID-targeted message flowing through the
// graph (spec.md §4.G). OnPID is empty when the event targets the whole
// filter rather than one of its PIDs. Payload carries event-specific
// fields (play ranges, seek offsets, speed, ...); the core does not
// interpret it beyond routing.
type Event struct {
	Type    Type
	OnPID   string
	Payload map[string]any
}

// New builds an Event with a fresh payload map.
func New(t Type, onPID string) *Event {
	return &Event{Type: t, OnPID: onPID, Payload: make(map[string]any)}
}
