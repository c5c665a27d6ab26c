// Package overlay draws the analysis of a frame on top of the frame image.
package overlay

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/stopline"
	"github.com/fogleman/gg"
)

type color struct {
	R, G, B float64
}

var (
	colorSignalRed   = color{1, 0.1, 0.1}
	colorSignalGreen = color{0.1, 0.9, 0.2}
	colorTrack       = color{0.2, 0.6, 1}
	colorViolator    = color{1, 0.3, 0}
	colorTrail       = color{1, 1, 0.2}
)

// Renderer writes one PNG per frame into Dir.
// If the frame has no image, the overlay is drawn onto a black canvas.
type Renderer struct {
	Log     logs.Log
	Dir     string
	Classes []string // Used for labels. May be nil.
}

func NewRenderer(logger logs.Log, dir string, classes []string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create overlay directory %v: %w", dir, err)
	}
	return &Renderer{
		Log:     logger,
		Dir:     dir,
		Classes: classes,
	}, nil
}

// OnFrame renders and saves the overlay for a frame
func (r *Renderer) OnFrame(frame *framesource.Frame, state *monitor.AnalysisState) error {
	dc, err := r.Render(frame, state)
	if err != nil {
		return err
	}
	filename := filepath.Join(r.Dir, fmt.Sprintf("overlay_%06d.png", frame.Index))
	if err := dc.SavePNG(filename); err != nil {
		return fmt.Errorf("Failed to save overlay %v: %w", filename, err)
	}
	return nil
}

// Render draws the overlay and returns the drawing context
func (r *Renderer) Render(frame *framesource.Frame, state *monitor.AnalysisState) (*gg.Context, error) {
	var dc *gg.Context
	if frame.ImagePath != "" {
		img, err := gg.LoadImage(frame.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("Failed to load frame image %v: %w", frame.ImagePath, err)
		}
		dc = gg.NewContextForImage(img)
	} else {
		w, h := state.Width, state.Height
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("Frame %v has no image and no dimensions", frame.Index)
		}
		dc = gg.NewContext(w, h)
		dc.SetRGB(0, 0, 0)
		dc.Clear()
	}

	drawStopLine(dc, state.Signal)
	for i := range state.Tracks {
		r.drawTrack(dc, &state.Tracks[i])
	}
	return dc, nil
}

// Image renders the overlay and returns it as an image
func (r *Renderer) Image(frame *framesource.Frame, state *monitor.AnalysisState) (image.Image, error) {
	dc, err := r.Render(frame, state)
	if err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

func drawStopLine(dc *gg.Context, sig stopline.SignalState) {
	c := colorSignalGreen
	label := "GREEN"
	if sig.Red {
		c = colorSignalRed
		label = "RED"
	}
	y := float64(sig.LineY)
	dc.SetRGB(c.R, c.G, c.B)
	dc.SetLineWidth(3)
	dc.DrawLine(0, y, float64(dc.Width()), y)
	dc.Stroke()
	dc.DrawString("STOP LINE "+label, 8, y-6)
}

func (r *Renderer) drawTrack(dc *gg.Context, t *monitor.TrackInfo) {
	if len(t.Trail) > 1 {
		dc.SetRGB(colorTrail.R, colorTrail.G, colorTrail.B)
		dc.SetLineWidth(2)
		dc.MoveTo(t.Trail[0].X, t.Trail[0].Y)
		for _, p := range t.Trail[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.Stroke()
	}

	c := colorTrack
	if len(t.Violations) != 0 {
		c = colorViolator
	}
	dc.SetRGB(c.R, c.G, c.B)
	dc.SetLineWidth(2)
	dc.DrawRectangle(float64(t.Box.X), float64(t.Box.Y), float64(t.Box.Width), float64(t.Box.Height))
	dc.Stroke()
	dc.DrawString(r.label(t), float64(t.Box.X), float64(t.Box.Y)-4)
}

func (r *Renderer) label(t *monitor.TrackInfo) string {
	s := fmt.Sprintf("#%v %.1f km/h", t.ID, t.SpeedKMH)
	if t.Class >= 0 && t.Class < len(r.Classes) {
		s = r.Classes[t.Class] + " " + s
	}
	for _, v := range t.Violations {
		s += " " + v.String()
	}
	return s
}
