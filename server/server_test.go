package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/server/config"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/ocr"
	"github.com/cyclopcam/trafficwatch/server/snapshot"
	"github.com/cyclopcam/trafficwatch/server/stopline"
	"github.com/cyclopcam/trafficwatch/server/violationdb"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeOCR struct {
	result ocr.Result
}

func (f *fakeOCR) ReadPlate(ctx context.Context, plate *cimg.Image) (ocr.Result, error) {
	return f.result, nil
}

func car(cx, cy int32) nn.ObjectDetection {
	return nn.ObjectDetection{
		Class:      nn.COCOCar,
		Confidence: 0.9,
		Box:        nn.MakeRect(cx-10, cy-10, cx+10, cy+10),
	}
}

// A car driving down the frame at 36 km/h, through a stop line at y=300
func drivingFrames() []*framesource.Frame {
	frames := []*framesource.Frame{}
	for i := 0; i < 7; i++ {
		frames = append(frames, &framesource.Frame{
			Index:      int64(i),
			PTS:        baseTime.Add(time.Duration(i) * 500 * time.Millisecond),
			Detections: []nn.ObjectDetection{car(200, int32(100+40*i))},
		})
	}
	return frames
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SpeedLimitKMH = 30
	cfg.StopLineY = 300
	cfg.InitialSignalRed = true
	cfg.Database = filepath.Join(dir, "test-violations.sqlite")
	cfg.SnapshotDir = filepath.Join(dir, "snapshots")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T, frames []*framesource.Frame) *Server {
	srv, err := NewServer(logs.NewTestingLog(t), testConfig(t), framesource.NewSliceSource(frames), 0)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

func countViolations(t *testing.T, db *violationdb.ViolationDB) int64 {
	n, err := db.Count()
	require.NoError(t, err)
	return n
}

func TestRunRecordsViolations(t *testing.T) {
	srv := newTestServer(t, drivingFrames())
	require.NoError(t, srv.Run())
	require.Eventually(t, func() bool { return countViolations(t, srv.ViolationDB) == 2 }, 5*time.Second, 10*time.Millisecond)

	list, err := srv.ViolationDB.List(&violationdb.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first
	require.Equal(t, "signal_jump", list[0].ViolationType)
	require.Equal(t, "over_speeding", list[1].ViolationType)
	for _, v := range list {
		// No frame images, so no snapshots, and no plate
		require.Equal(t, violationdb.UnknownVehicle, v.VehicleNumber)
		require.Equal(t, "", v.SnapshotPath)
		require.Equal(t, int64(1), v.TrackID)
		require.InDelta(t, 36.0, v.SpeedKMH, 1e-6)
	}
	require.Equal(t, int64(1), list[1].FrameIndex)
}

func writeTestJPEG(t *testing.T, filename string, width, height int) {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = byte(i * 7)
	}
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling(cimg.Sampling444), 90, cimg.Flags(0)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filename, jpg, 0644))
}

func TestRecorderWithImage(t *testing.T) {
	dir := t.TempDir()
	logger := logs.NewTestingLog(t)
	db, err := violationdb.NewViolationDB(logger, filepath.Join(dir, "test-recorder.sqlite"))
	require.NoError(t, err)
	defer db.Close()
	snaps, err := snapshot.NewWriter(filepath.Join(dir, "snaps"))
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "frame.jpg")
	writeTestJPEG(t, imgPath, 320, 240)

	rec := &violationRecorder{
		log:        logger,
		db:         db,
		snapshots:  snaps,
		ocr:        &fakeOCR{result: ocr.Result{Text: "KA01AB1234", RawText: "ka01 ab1234", Confidence: 0.25}},
		ocrMinConf: 0.3,
		classes:    nn.COCOClasses,
	}
	frame := &framesource.Frame{Index: 9, PTS: baseTime, ImagePath: imgPath}
	ev := &monitor.ViolationEvent{
		TrackID:    4,
		Kind:       monitor.OverSpeeding,
		FrameIndex: 9,
		Time:       baseTime,
		SpeedKMH:   72,
		Class:      nn.COCOCar,
		Box:        nn.MakeRect(100, 100, 180, 160),
	}
	require.NoError(t, rec.OnViolation(frame, ev))

	list, err := db.List(&violationdb.ListFilter{VehicleNumber: "ka01ab1234"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	v := list[0]
	require.Equal(t, "over_speeding", v.ViolationType)
	require.FileExists(t, v.SnapshotPath)
	require.Equal(t, snapshot.Filename("over_speeding", baseTime, 9), filepath.Base(v.SnapshotPath))
	extra := v.ExtraData()
	require.FileExists(t, extra.PlateImagePath)
	require.True(t, extra.OCRLowConfidence)
	require.InDelta(t, 0.25, extra.OCRConfidence, 1e-9)

	// A missing image still produces a record
	frame.ImagePath = filepath.Join(dir, "gone.jpg")
	ev.Kind = monitor.SignalJump
	require.NoError(t, rec.OnViolation(frame, ev))
	list, err = db.List(&violationdb.ListFilter{ViolationType: "signal_jump"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, violationdb.UnknownVehicle, list[0].VehicleNumber)
}

func TestSignalAPI(t *testing.T) {
	srv := newTestServer(t, nil)
	ts := httptest.NewServer(srv.httpRouter)
	defer ts.Close()

	sig := stopline.SignalState{}
	resp, err := http.Get(ts.URL + "/api/signal")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sig))
	resp.Body.Close()
	require.True(t, sig.Red)
	require.Equal(t, 300, sig.LineY)

	req, _ := http.NewRequest("PUT", ts.URL+"/api/signal", bytes.NewReader([]byte(`{"red":false}`)))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()
	require.False(t, srv.Monitor.Signal().Red)

	req, _ = http.NewRequest("PUT", ts.URL+"/api/signal", bytes.NewReader([]byte(`not json`)))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
	resp.Body.Close()
}

func TestTracksAndViolationsAPI(t *testing.T) {
	srv := newTestServer(t, drivingFrames())
	ts := httptest.NewServer(srv.httpRouter)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tracks")
	require.NoError(t, err)
	body := bytes.Buffer{}
	body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Equal(t, "null", strings.TrimSpace(body.String()))

	require.NoError(t, srv.Run())
	require.Eventually(t, func() bool { return countViolations(t, srv.ViolationDB) == 2 }, 5*time.Second, 10*time.Millisecond)

	state := monitor.AnalysisState{}
	resp, err = http.Get(ts.URL + "/api/tracks")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	require.Equal(t, int64(6), state.FrameIndex)
	require.Len(t, state.Tracks, 1)
	require.Equal(t, "crossed", state.Tracks[0].Crossing)

	list := []*violationdb.Violation{}
	resp, err = http.Get(ts.URL + "/api/violations?type=over_speeding")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)

	resp, err = http.Get(ts.URL + "/api/violations?from=not-a-date")
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body.Reset()
	body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Contains(t, body.String(), "trafficwatch_monitor_frames_processed_total")
}

func TestEventsWebSocket(t *testing.T) {
	frames := drivingFrames()
	srv := newTestServer(t, frames)
	ts := httptest.NewServer(srv.httpRouter)
	defer ts.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws/events", nil)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return srv.Monitor.NumEventWatchers() == 1 }, 5*time.Second, 10*time.Millisecond)

	for _, f := range frames {
		srv.Monitor.ProcessFrame(f)
	}

	kinds := []monitor.ViolationKind{}
	for i := 0; i < 2; i++ {
		ev := monitor.ViolationEvent{}
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		require.NoError(t, c.ReadJSON(&ev))
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []monitor.ViolationKind{monitor.OverSpeeding, monitor.SignalJump}, kinds)
}

// gatedSource serves frames, but blocks before frame gateAt until the gate is opened.
// If honorClose is set, closing the source also releases a blocked Next.
type gatedSource struct {
	frames     []*framesource.Frame
	gateAt     int
	honorClose bool
	pos        int
	waiting    chan bool
	gate       chan bool
	closed     chan bool
	closeOnce  sync.Once
}

func newGatedSource(frames []*framesource.Frame, gateAt int, honorClose bool) *gatedSource {
	return &gatedSource{
		frames:     frames,
		gateAt:     gateAt,
		honorClose: honorClose,
		waiting:    make(chan bool, 1),
		gate:       make(chan bool),
		closed:     make(chan bool),
	}
}

func (g *gatedSource) Next() (*framesource.Frame, error) {
	if g.pos == g.gateAt {
		g.waiting <- true
		if g.honorClose {
			select {
			case <-g.gate:
			case <-g.closed:
				return nil, errors.New("read from closed source")
			}
		} else {
			<-g.gate
		}
	}
	if g.pos >= len(g.frames) {
		return nil, io.EOF
	}
	f := g.frames[g.pos]
	g.pos++
	return f, nil
}

func (g *gatedSource) Classes() []string {
	return nn.COCOClasses
}

func (g *gatedSource) Close() error {
	g.closeOnce.Do(func() { close(g.closed) })
	return nil
}

func runInBackground(srv *Server) chan error {
	result := make(chan error, 1)
	go func() {
		result <- srv.Run()
	}()
	return result
}

func TestShutdownWhileSourceBlocked(t *testing.T) {
	src := newGatedSource(drivingFrames(), 1, true)
	srv, err := NewServer(logs.NewTestingLog(t), testConfig(t), src, 0)
	require.NoError(t, err)
	result := runInBackground(srv)
	<-src.waiting

	srv.Shutdown()
	select {
	case <-srv.runDone:
	default:
		t.Fatal("Shutdown returned before the frame loop stopped")
	}
	require.NoError(t, <-result)
	require.Equal(t, int64(1), srv.Monitor.NumFrames())
}

func TestShutdownWhenSourceIgnoresClose(t *testing.T) {
	saved := runStopTimeout
	runStopTimeout = 50 * time.Millisecond
	t.Cleanup(func() { runStopTimeout = saved })

	src := newGatedSource(drivingFrames()[:2], 1, false)
	srv, err := NewServer(logs.NewTestingLog(t), testConfig(t), src, 0)
	require.NoError(t, err)
	result := runInBackground(srv)
	<-src.waiting

	srv.Shutdown()

	// The next frame is an over-speed violation, which now arrives at a closed recorder
	close(src.gate)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Equal(t, int64(2), srv.Monitor.NumFrames())
	st := srv.Monitor.LatestState()
	require.Equal(t, []monitor.ViolationKind{monitor.OverSpeeding}, st.Track(1).Violations)
}

func TestShutdownBeforeRun(t *testing.T) {
	srv := newTestServer(t, drivingFrames())
	srv.Shutdown()
	require.NoError(t, srv.Run())
	require.Equal(t, int64(0), srv.Monitor.NumFrames())
}
