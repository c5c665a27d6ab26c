package overlay

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/stopline"
	"github.com/stretchr/testify/require"
)

func testState(red bool, violations []monitor.ViolationKind) *monitor.AnalysisState {
	return &monitor.AnalysisState{
		FrameIndex: 3,
		Width:      320,
		Height:     240,
		Signal:     stopline.SignalState{Red: red, LineY: 200},
		Tracks: []monitor.TrackInfo{
			{
				ID:         1,
				Class:      nn.COCOCar,
				Box:        nn.MakeRect(100, 100, 140, 140),
				SpeedKMH:   42,
				Violations: violations,
				Trail:      []nn.Vec2{{X: 120, Y: 60}, {X: 120, Y: 90}, {X: 120, Y: 120}},
			},
		},
	}
}

func TestRenderColors(t *testing.T) {
	r, err := NewRenderer(logs.NewTestingLog(t), t.TempDir(), nn.COCOClasses)
	require.NoError(t, err)
	frame := &framesource.Frame{Index: 3, Width: 320, Height: 240}

	img, err := r.Image(frame, testState(true, nil))
	require.NoError(t, err)
	cr, cg, _, _ := img.At(300, 200).RGBA()
	require.Greater(t, cr>>8, uint32(200))
	require.Less(t, cg>>8, uint32(60))

	// Box outline
	_, _, cb, _ := img.At(100, 130).RGBA()
	require.Greater(t, cb>>8, uint32(200))

	img, err = r.Image(frame, testState(false, []monitor.ViolationKind{monitor.OverSpeeding}))
	require.NoError(t, err)
	cr, cg, _, _ = img.At(300, 200).RGBA()
	require.Less(t, cr>>8, uint32(60))
	require.Greater(t, cg>>8, uint32(200))
	cr, _, cb, _ = img.At(100, 130).RGBA()
	require.Greater(t, cr>>8, uint32(200))
	require.Less(t, cb>>8, uint32(60))
}

func TestLabel(t *testing.T) {
	r := &Renderer{Classes: nn.COCOClasses}
	info := &monitor.TrackInfo{ID: 7, Class: nn.COCOTruck, SpeedKMH: 71.26, Violations: []monitor.ViolationKind{monitor.SignalJump}}
	require.Equal(t, "truck #7 71.3 km/h signal_jump", r.label(info))

	r.Classes = nil
	require.Equal(t, "#7 71.3 km/h signal_jump", r.label(info))
}

func TestOnFrame(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(logs.NewTestingLog(t), dir, nil)
	require.NoError(t, err)
	require.NoError(t, r.OnFrame(&framesource.Frame{Index: 3}, testState(false, nil)))
	require.FileExists(t, filepath.Join(dir, "overlay_000003.png"))

	// No image and no size
	err = r.OnFrame(&framesource.Frame{Index: 4}, &monitor.AnalysisState{})
	require.Error(t, err)

	err = r.OnFrame(&framesource.Frame{Index: 5, ImagePath: filepath.Join(dir, "missing.jpg")}, testState(false, nil))
	require.Error(t, err)
}
