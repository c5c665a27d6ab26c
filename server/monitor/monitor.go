// Package monitor runs the per-frame loop that turns vehicle detections into
// violation events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/pkg/perfstats"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/stopline"
	"github.com/cyclopcam/trafficwatch/server/tracking"
)

// When the configured stop line is below the bottom of the frame, it is moved
// to this fraction of the frame height
const StopLineFallbackFraction = 0.6

// Minimum interval between repeated error messages from the same sink
const errorLogInterval = 15 * time.Second

const (
	signalNone int32 = iota
	signalGreen
	signalRed
)

type Config struct {
	Tracking         tracking.Config
	StopLineY        int
	InitialSignalRed bool
	VehicleClasses   []string // Class names that are tracked. If empty, all classes are tracked.
	MinConfidence    float32
	MaxFrames        int64 // Stop after this many frames. Zero means no limit.
	Verbose          bool
}

type namedSink struct {
	name string
	sink EventSink
}

type namedObserver struct {
	name     string
	observer FrameObserver
}

// Monitor owns all tracking state, and drives it one frame at a time.
// Only SetSignalRed, Signal, LatestState and the watcher functions may be
// called from other goroutines while Run is active.
type Monitor struct {
	Log    logs.Log
	config Config
	source framesource.Source
	filter *nn.ClassFilter

	sinks     []namedSink
	observers []namedObserver

	// Owned by the frame loop
	registry    *tracking.Registry
	stopLine    *stopline.Monitor
	dedup       *Deduplicator
	signal      stopline.SignalState
	lineChecked bool
	numFrames   atomic.Int64 // Read by other goroutines
	lastErrAt   map[string]time.Time
	lastTrackID int64
	frameTime   perfstats.TimeAccumulator

	pendingSignal atomic.Int32 // signalNone, signalGreen, or signalRed

	watchersLock  sync.RWMutex
	watchers      []chan *AnalysisState
	eventWatchers []chan *ViolationEvent

	stateLock sync.Mutex
	latest    *AnalysisState
	published stopline.SignalState
}

// NewMonitor creates a monitor that reads from source.
// Class names in config.VehicleClasses are resolved against the source's class list.
func NewMonitor(logger logs.Log, config Config, source framesource.Source) (*Monitor, error) {
	m := &Monitor{
		Log:       logger,
		config:    config,
		source:    source,
		registry:  tracking.NewRegistry(config.Tracking),
		stopLine:  stopline.NewMonitor(),
		dedup:     NewDeduplicator(),
		lastErrAt: map[string]time.Time{},
		signal: stopline.SignalState{
			Red:   config.InitialSignalRed,
			LineY: config.StopLineY,
		},
	}
	m.published = m.signal
	if len(config.VehicleClasses) != 0 {
		filter, unknown := nn.NewClassFilter(source.Classes(), config.VehicleClasses, config.MinConfidence)
		if len(unknown) != 0 {
			return nil, fmt.Errorf("Unknown vehicle classes %v", unknown)
		}
		m.filter = filter
	}
	m.registry.OnExpired = m.onTrackExpired
	return m, nil
}

// AddSink registers a sink for violation events. Sinks are called in the order that they were added.
// Must be called before Run.
func (m *Monitor) AddSink(name string, sink EventSink) {
	m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
}

// AddObserver registers an observer of every analyzed frame. Must be called before Run.
func (m *Monitor) AddObserver(name string, observer FrameObserver) {
	m.observers = append(m.observers, namedObserver{name: name, observer: observer})
}

// SetSignalRed records the latest known signal phase.
// It takes effect at the start of the next frame.
func (m *Monitor) SetSignalRed(red bool) {
	if red {
		m.pendingSignal.Store(signalRed)
	} else {
		m.pendingSignal.Store(signalGreen)
	}
}

// Signal returns the signal state, including a change that has not yet been applied
func (m *Monitor) Signal() stopline.SignalState {
	m.stateLock.Lock()
	s := m.published
	m.stateLock.Unlock()
	switch m.pendingSignal.Load() {
	case signalRed:
		s.Red = true
	case signalGreen:
		s.Red = false
	}
	return s
}

// LatestState returns the analysis of the most recent frame, or nil if no frame has been processed
func (m *Monitor) LatestState() *AnalysisState {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	return m.latest
}

// NumFrames is the number of frames processed so far
func (m *Monitor) NumFrames() int64 {
	return m.numFrames.Load()
}

// Run processes frames until the source is exhausted, MaxFrames is reached,
// or ctx is cancelled. Cancellation is only noticed between frames.
// Returns nil in all of those cases.
func (m *Monitor) Run(ctx context.Context) error {
	m.Log.Infof("Monitor starting")
	defer func() {
		m.Log.Infof("Frame processing time: %v", &m.frameTime)
	}()
	for {
		if err := ctx.Err(); err != nil {
			m.Log.Infof("Monitor stopping after %v frames (%v)", m.numFrames.Load(), err)
			return nil
		}
		if m.config.MaxFrames > 0 && m.numFrames.Load() >= m.config.MaxFrames {
			m.Log.Infof("Monitor stopping after reaching frame limit of %v", m.config.MaxFrames)
			return nil
		}
		frame, err := m.source.Next()
		if errors.Is(err, io.EOF) {
			m.Log.Infof("Frame source is exhausted after %v frames", m.numFrames.Load())
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				// The source was closed underneath us, as part of shutdown
				m.Log.Infof("Monitor stopping after %v frames (%v)", m.numFrames.Load(), ctx.Err())
				return nil
			}
			return fmt.Errorf("Failed to read frame %v: %w", m.numFrames.Load(), err)
		}
		start := time.Now()
		m.ProcessFrame(frame)
		m.frameTime.AddSince(start)
	}
}

// ProcessFrame runs one iteration of the frame loop, and returns the events that it emitted.
// It must not be called concurrently with itself or with Run.
func (m *Monitor) ProcessFrame(frame *framesource.Frame) []*ViolationEvent {
	m.numFrames.Add(1)
	framesProcessed.Inc()
	if frame.Skipped != 0 {
		detectionsSkipped.Add(float64(frame.Skipped))
		if m.config.Verbose {
			m.Log.Debugf("Frame %v: skipped %v malformed detections", frame.Index, frame.Skipped)
		}
	}

	m.applySignal(frame)
	m.checkStopLine(frame)
	sig := m.signal

	dets := frame.Detections
	if m.filter != nil {
		dets = m.filter.Filter(dets)
	}

	tracks := m.registry.Update(dets, frame.PTS)
	if last := m.registry.LastID(); last != m.lastTrackID {
		tracksCreated.Add(float64(last - m.lastTrackID))
		m.lastTrackID = last
	}
	activeTracks.Set(float64(len(tracks)))

	events := []*ViolationEvent{}
	for _, t := range tracks {
		if t.Overspeeding && m.dedup.TryMark(t.ID, OverSpeeding) {
			events = append(events, m.emit(frame, t, OverSpeeding))
		}
		// The stop line machine is evaluated every frame, even when the signal is green
		if m.stopLine.Evaluate(sig, t.ID, t.MinY, t.Box.Y2()) && m.dedup.TryMark(t.ID, SignalJump) {
			events = append(events, m.emit(frame, t, SignalJump))
		}
	}

	state := &AnalysisState{
		FrameIndex: frame.Index,
		Time:       frame.PTS,
		Width:      frame.Width,
		Height:     frame.Height,
		Signal:     sig,
		Tracks:     make([]TrackInfo, 0, len(tracks)),
	}
	for _, t := range tracks {
		state.Tracks = append(state.Tracks, makeTrackInfo(t, m.stopLine.Phase(t.ID)))
	}
	m.stateLock.Lock()
	m.latest = state
	m.published = sig
	m.stateLock.Unlock()
	m.sendToWatchers(state)

	for _, o := range m.observers {
		if err := o.observer.OnFrame(frame, state); err != nil {
			m.sinkFailed(o.name, err)
		}
	}
	return events
}

// Create a new event, and deliver it synchronously to every sink
func (m *Monitor) emit(frame *framesource.Frame, t *tracking.Track, kind ViolationKind) *ViolationEvent {
	t.MarkFired(int(kind))
	ev := &ViolationEvent{
		TrackID:    t.ID,
		Kind:       kind,
		FrameIndex: frame.Index,
		Time:       frame.PTS,
		SpeedKMH:   t.SpeedKMH,
		Class:      t.Class,
		Box:        t.Box,
	}
	violationsEmitted.WithLabelValues(kind.String()).Inc()
	m.Log.Infof("Violation %v by track %v at frame %v (%.1f km/h)", kind, t.ID, frame.Index, t.SpeedKMH)

	for _, s := range m.sinks {
		if err := s.sink.OnViolation(frame, ev); err != nil {
			m.sinkFailed(s.name, err)
		}
	}
	m.sendToEventWatchers(ev)
	return ev
}

func (m *Monitor) sinkFailed(name string, err error) {
	sinkFailures.WithLabelValues(name).Inc()
	now := time.Now()
	if now.Sub(m.lastErrAt[name]) > errorLogInterval {
		m.Log.Errorf("Sink %v failed: %v", name, err)
		m.lastErrAt[name] = now
	}
}

func (m *Monitor) applySignal(frame *framesource.Frame) {
	prev := m.signal.Red
	if frame.SignalRed != nil {
		m.signal.Red = *frame.SignalRed
	}
	switch m.pendingSignal.Swap(signalNone) {
	case signalRed:
		m.signal.Red = true
	case signalGreen:
		m.signal.Red = false
	}
	if m.signal.Red != prev {
		m.Log.Infof("Signal is now %v (frame %v)", redOrGreen(m.signal.Red), frame.Index)
	}
}

// The first time that we learn the frame height, make sure the stop line is inside the frame
func (m *Monitor) checkStopLine(frame *framesource.Frame) {
	if m.lineChecked || frame.Height <= 0 {
		return
	}
	m.lineChecked = true
	if m.signal.LineY >= frame.Height {
		fallback := int(StopLineFallbackFraction * float64(frame.Height))
		m.Log.Warnf("Stop line %v is outside of the frame (height %v). Moving it to %v", m.signal.LineY, frame.Height, fallback)
		m.signal.LineY = fallback
	}
}

func (m *Monitor) onTrackExpired(t *tracking.Track) {
	tracksExpired.Inc()
	m.dedup.Forget(t.ID)
	m.stopLine.Forget(t.ID)
	if m.config.Verbose {
		m.Log.Debugf("Track %v lost after %v sightings over %.1f seconds", t.ID, t.Sightings, t.Age().Seconds())
	}
}

func redOrGreen(red bool) string {
	if red {
		return "red"
	}
	return "green"
}
