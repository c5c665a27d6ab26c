package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/gen"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/pkg/speed"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/tracking"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// dummySink records every event that it sees
type dummySink struct {
	lock   sync.Mutex
	events []*ViolationEvent
}

func (d *dummySink) OnViolation(frame *framesource.Frame, ev *ViolationEvent) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *dummySink) all() []*ViolationEvent {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]*ViolationEvent{}, d.events...)
}

type failingSink struct {
	calls int
}

func (f *failingSink) OnViolation(frame *framesource.Frame, ev *ViolationEvent) error {
	f.calls++
	return fmt.Errorf("Database is on fire")
}

type errorSource struct{}

func (e *errorSource) Next() (*framesource.Frame, error) {
	return nil, fmt.Errorf("Disk ate the tape")
}

func (e *errorSource) Classes() []string {
	return nn.COCOClasses
}

func (e *errorSource) Close() error {
	return nil
}

func testConfig() Config {
	return Config{
		Tracking: tracking.Config{
			MaxMatchDistance: 50,
			MaxLostTime:      time.Second,
			HistorySize:      16,
			Speed:            speed.Estimator{PixelsPerMeter: 8, LimitKMH: 60},
		},
		StopLineY:      300,
		VehicleClasses: []string{"car", "truck"},
		MinConfidence:  0.4,
	}
}

// A 20x20 car centered at cx,cy
func car(cx, cy int32) nn.ObjectDetection {
	return nn.ObjectDetection{
		Class:      nn.COCOCar,
		Confidence: 0.9,
		Box:        nn.MakeRect(cx-10, cy-10, cx+10, cy+10),
	}
}

func frame(index int64, seconds float64, dets ...nn.ObjectDetection) *framesource.Frame {
	return &framesource.Frame{
		Index:      index,
		PTS:        baseTime.Add(time.Duration(seconds * float64(time.Second))),
		Detections: dets,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func newTestMonitor(t *testing.T, cfg Config, frames []*framesource.Frame) (*Monitor, *dummySink) {
	m, err := NewMonitor(logs.NewTestingLog(t), cfg, framesource.NewSliceSource(frames))
	require.NoError(t, err)
	sink := &dummySink{}
	m.AddSink("dummy", sink)
	return m, sink
}

func TestOverspeedEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Tracking.Speed.LimitKMH = 10
	cfg.StopLineY = 100000

	// 40px per frame, 0.5 seconds apart = 36 km/h
	frames := []*framesource.Frame{}
	for i := 0; i < 5; i++ {
		frames = append(frames, frame(int64(i), float64(i)*0.5, car(200, int32(100+40*i))))
	}
	m, sink := newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, int64(5), m.NumFrames())

	events := sink.all()
	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, OverSpeeding, ev.Kind)
	require.Equal(t, int64(1), ev.TrackID)
	require.Equal(t, int64(1), ev.FrameIndex)
	require.InDelta(t, 36.0, ev.SpeedKMH, 1e-6)
	require.True(t, ev.Time.Equal(baseTime.Add(500*time.Millisecond)))

	st := m.LatestState()
	require.NotNil(t, st)
	require.Equal(t, int64(4), st.FrameIndex)
	require.Equal(t, []ViolationKind{OverSpeeding}, st.Track(1).Violations)
	require.Len(t, st.Track(1).Trail, 5)
}

func TestSignalJump(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSignalRed = true
	frames := []*framesource.Frame{
		frame(0, 0.0, car(200, 270)), // bottom 280, before the line
		frame(1, 0.5, car(200, 300)), // bottom 310, past the line
		frame(2, 1.0, car(200, 330)),
		frame(3, 1.5, car(200, 360)),
	}
	m, sink := newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))

	events := sink.all()
	require.Len(t, events, 1)
	require.Equal(t, SignalJump, events[0].Kind)
	require.Equal(t, int64(1), events[0].FrameIndex)
	require.Equal(t, "crossed", m.LatestState().Track(1).Crossing)
}

func TestNoSignalJumpOnGreen(t *testing.T) {
	cfg := testConfig()
	frames := []*framesource.Frame{
		frame(0, 0.0, car(200, 270)),
		frame(1, 0.5, car(200, 300)),
		frame(2, 1.0, car(200, 330)),
	}
	m, sink := newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))
	require.Empty(t, sink.all())
}

func TestCrossedOnGreenThenRed(t *testing.T) {
	cfg := testConfig()
	frames := []*framesource.Frame{
		frame(0, 0.0, car(200, 270)),
		frame(1, 0.5, car(200, 300)),
		// Light turns red while the car is past the line
		{Index: 2, PTS: baseTime.Add(time.Second), SignalRed: boolPtr(true), Detections: []nn.ObjectDetection{car(200, 330)}},
		frame(3, 1.5, car(200, 360)),
	}
	m, sink := newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))
	require.Empty(t, sink.all())
	require.True(t, m.Signal().Red)
}

func TestSetSignalRed(t *testing.T) {
	cfg := testConfig()
	m, sink := newTestMonitor(t, cfg, nil)
	require.False(t, m.Signal().Red)

	m.ProcessFrame(frame(0, 0, car(200, 270)))
	m.SetSignalRed(true)
	// Visible immediately, applied at the next frame
	require.True(t, m.Signal().Red)
	require.False(t, m.LatestState().Signal.Red)

	events := m.ProcessFrame(frame(1, 0.5, car(200, 300)))
	require.Len(t, events, 1)
	require.Equal(t, SignalJump, events[0].Kind)
	require.True(t, m.LatestState().Signal.Red)
	require.Len(t, sink.all(), 1)

	m.SetSignalRed(false)
	m.ProcessFrame(frame(2, 1.0))
	require.False(t, m.Signal().Red)
}

func TestSinkFailureDoesNotStopLoop(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSignalRed = true
	frames := []*framesource.Frame{
		frame(0, 0.0, car(200, 270), car(500, 270)),
		frame(1, 0.5, car(200, 300), car(500, 300)),
		frame(2, 1.0, car(200, 330), car(500, 330)),
	}
	m, err := NewMonitor(logs.NewTestingLog(t), cfg, framesource.NewSliceSource(frames))
	require.NoError(t, err)
	failing := &failingSink{}
	sink := &dummySink{}
	m.AddSink("failing", failing)
	m.AddSink("dummy", sink)
	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, 2, failing.calls)
	require.Len(t, sink.all(), 2)
	require.Equal(t, int64(3), m.NumFrames())
}

func TestDedupRestartsForNewTrack(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSignalRed = true
	frames := []*framesource.Frame{
		frame(0, 0.0, car(200, 270)),
		frame(1, 0.5, car(200, 300)),
		// Track 1 is lost, and later a new vehicle does the same thing
		frame(2, 3.0),
		frame(3, 5.0, car(200, 270)),
		frame(4, 5.5, car(200, 300)),
	}
	m, sink := newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))
	events := sink.all()
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].TrackID)
	require.Equal(t, int64(2), events[1].TrackID)
	// Only the live track is remembered
	require.Equal(t, 1, m.dedup.Len())
}

func TestStopLineClamp(t *testing.T) {
	cfg := testConfig()
	cfg.StopLineY = 350
	m, _ := newTestMonitor(t, cfg, nil)
	f := frame(0, 0)
	f.Height = 240
	m.ProcessFrame(f)
	require.Equal(t, 144, m.Signal().LineY)

	// A stop line inside the frame is left alone
	cfg.StopLineY = 200
	m, _ = newTestMonitor(t, cfg, nil)
	m.ProcessFrame(f)
	require.Equal(t, 200, m.Signal().LineY)
}

func TestClassFilter(t *testing.T) {
	cfg := testConfig()
	m, _ := newTestMonitor(t, cfg, nil)
	person := nn.ObjectDetection{Class: nn.COCOPerson, Confidence: 0.9, Box: nn.MakeRect(0, 0, 10, 30)}
	faint := car(400, 400)
	faint.Confidence = 0.2
	m.ProcessFrame(frame(0, 0, person, faint, car(100, 100)))
	require.Len(t, m.LatestState().Tracks, 1)

	cfg.VehicleClasses = []string{"car", "spaceship"}
	_, err := NewMonitor(logs.NewTestingLog(t), cfg, framesource.NewSliceSource(nil))
	require.Error(t, err)
}

func TestRunStops(t *testing.T) {
	frames := []*framesource.Frame{}
	for i := 0; i < 10; i++ {
		frames = append(frames, frame(int64(i), float64(i)*0.1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := newTestMonitor(t, testConfig(), frames)
	require.NoError(t, m.Run(ctx))
	require.Equal(t, int64(0), m.NumFrames())

	cfg := testConfig()
	cfg.MaxFrames = 3
	m, _ = newTestMonitor(t, cfg, frames)
	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, int64(3), m.NumFrames())
}

func TestRunSourceError(t *testing.T) {
	m, err := NewMonitor(logs.NewTestingLog(t), testConfig(), &errorSource{})
	require.NoError(t, err)
	err = m.Run(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, io.EOF))
}

func TestWatchers(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSignalRed = true
	m, _ := newTestMonitor(t, cfg, nil)
	states := m.AddWatcher()
	events := m.AddEventWatcher()

	m.ProcessFrame(frame(0, 0.0, car(200, 270)))
	m.ProcessFrame(frame(1, 0.5, car(200, 300)))

	s := gen.DrainChannel(states)
	require.Len(t, s, 2)
	require.Equal(t, int64(1), s[1].FrameIndex)
	e := gen.DrainChannel(events)
	require.Len(t, e, 1)
	require.Equal(t, SignalJump, e[0].Kind)

	m.RemoveWatcher(states)
	m.RemoveEventWatcher(events)
	m.ProcessFrame(frame(2, 1.0, car(200, 330)))
	require.Len(t, states, 0)
}

func TestAsyncSink(t *testing.T) {
	cfg := testConfig()
	cfg.InitialSignalRed = true
	m, err := NewMonitor(logs.NewTestingLog(t), cfg, framesource.NewSliceSource(nil))
	require.NoError(t, err)
	inner := &dummySink{}
	async := NewAsyncSink(m.Log, "async", inner, 50)
	m.AddSink("async", async)
	m.ProcessFrame(frame(0, 0.0, car(200, 270)))
	m.ProcessFrame(frame(1, 0.5, car(200, 300)))
	async.Close()
	require.Len(t, inner.all(), 1)
}

func TestAsyncSinkAfterClose(t *testing.T) {
	cfg := testConfig()
	cfg.Tracking.Speed.LimitKMH = 30
	m, err := NewMonitor(logs.NewTestingLog(t), cfg, framesource.NewSliceSource(nil))
	require.NoError(t, err)
	inner := &dummySink{}
	async := NewAsyncSink(m.Log, "async", inner, 50)
	m.AddSink("async", async)
	m.ProcessFrame(frame(0, 0.0, car(200, 100)))
	async.Close()
	async.Close()

	// 40 px in 0.5 s at 8 px/m is 36 km/h. The event must not reach the closed queue.
	events := m.ProcessFrame(frame(1, 0.5, car(200, 140)))
	require.Len(t, events, 1)
	require.Equal(t, OverSpeeding, events[0].Kind)
	require.ErrorIs(t, async.OnViolation(nil, events[0]), ErrSinkClosed)
	require.Len(t, inner.all(), 0)
}

// blockingSource blocks in Next until it is closed, like a pipe with no writer activity
type blockingSource struct {
	waiting chan bool
	done    chan bool
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{
		waiting: make(chan bool, 1),
		done:    make(chan bool),
	}
}

func (b *blockingSource) Next() (*framesource.Frame, error) {
	select {
	case b.waiting <- true:
	default:
	}
	<-b.done
	return nil, errors.New("read on closed source")
}

func (b *blockingSource) Classes() []string {
	return nn.COCOClasses
}

func (b *blockingSource) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestRunStopsWhenSourceClosedDuringShutdown(t *testing.T) {
	src := newBlockingSource()
	m, err := NewMonitor(logs.NewTestingLog(t), testConfig(), src)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- m.Run(ctx)
	}()
	<-src.waiting
	cancel()
	src.Close()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDeduplicator(t *testing.T) {
	d := NewDeduplicator()
	require.True(t, d.TryMark(1, OverSpeeding))
	require.False(t, d.TryMark(1, OverSpeeding))
	require.True(t, d.TryMark(1, SignalJump))
	require.True(t, d.Has(1, SignalJump))
	require.False(t, d.Has(2, SignalJump))
	require.Equal(t, 2, d.Len())
	d.Forget(1)
	require.Equal(t, 0, d.Len())
}

func TestViolationKindText(t *testing.T) {
	for _, k := range AllViolationKinds {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var k2 ViolationKind
		require.NoError(t, k2.UnmarshalText(b))
		require.Equal(t, k, k2)
	}
	require.Equal(t, "over_speeding", OverSpeeding.String())
	_, err := ParseViolationKind("parking")
	require.Error(t, err)
}
