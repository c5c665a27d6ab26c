package monitor

import (
	"fmt"
	"time"

	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/server/framesource"
)

type ViolationKind int

const (
	OverSpeeding ViolationKind = iota
	SignalJump
	numViolationKinds
)

// AllViolationKinds lists every kind, in a stable order
var AllViolationKinds = []ViolationKind{OverSpeeding, SignalJump}

func (k ViolationKind) String() string {
	switch k {
	case OverSpeeding:
		return "over_speeding"
	case SignalJump:
		return "signal_jump"
	}
	return fmt.Sprintf("ViolationKind(%d)", int(k))
}

func ParseViolationKind(s string) (ViolationKind, error) {
	for _, k := range AllViolationKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("Unknown violation kind '%v'", s)
}

func (k ViolationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ViolationKind) UnmarshalText(b []byte) error {
	v, err := ParseViolationKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ViolationEvent is emitted exactly once for a (track, kind) pair.
type ViolationEvent struct {
	TrackID    int64         `json:"trackID"`
	Kind       ViolationKind `json:"kind"`
	FrameIndex int64         `json:"frameIndex"`
	Time       time.Time     `json:"time"`
	SpeedKMH   float64       `json:"speedKmph"` // Speed of the track when the event fired. For OverSpeeding, this is the offending speed.
	Class      int           `json:"class"`
	Box        nn.Rect       `json:"box"`
}

// EventSink receives violation events from the frame loop.
// OnViolation is called synchronously, on the frame loop goroutine, so a slow
// sink stalls frame processing. Wrap it in an AsyncSink if that matters.
// An error is logged and counted, but is otherwise ignored. The event is not retried.
type EventSink interface {
	OnViolation(frame *framesource.Frame, ev *ViolationEvent) error
}

// FrameObserver is called after every frame has been fully analyzed
type FrameObserver interface {
	OnFrame(frame *framesource.Frame, state *AnalysisState) error
}

// EventSinkFunc adapts a function to the EventSink interface
type EventSinkFunc func(frame *framesource.Frame, ev *ViolationEvent) error

func (f EventSinkFunc) OnViolation(frame *framesource.Frame, ev *ViolationEvent) error {
	return f(frame, ev)
}
