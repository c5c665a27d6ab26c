// Package framesource reads per-frame vehicle detections produced by an
// external object detector.
package framesource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// DefaultFPS is used to derive frame times when a source supplies neither
// timestamps nor a frame rate
const DefaultFPS = 30

// Frame is one video frame worth of detections
type Frame struct {
	Index      int64
	PTS        time.Time // Presentation time. Non-decreasing within a source.
	Width      int       // Zero if unknown
	Height     int       // Zero if unknown
	Detections []nn.ObjectDetection
	Skipped    int    // Number of malformed detections that were dropped
	SignalRed  *bool  // If not nil, the signal phase observed at this frame
	ImagePath  string // Optional path to the decoded frame image (JPEG or PNG)
}

// Source produces frames in order.
// Next returns io.EOF when there are no more frames.
type Source interface {
	Next() (*Frame, error)
	Classes() []string // Class names, indexed by ObjectDetection.Class
	Close() error
}

// FrameLabels is the JSON form of a frame, shared by labels files and streams
type FrameLabels struct {
	Frame     *int64            `json:"frame,omitempty"`
	Time      *float64          `json:"time,omitempty"` // Seconds since the start of the video
	SignalRed *bool             `json:"signalRed,omitempty"`
	Image     string            `json:"image,omitempty"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	Objects   []nn.RawDetection `json:"objects"`
}

// Converts frames from their JSON form, filling in whatever is missing
type frameBuilder struct {
	baseTime  time.Time
	fps       float64
	width     int
	height    int
	imageDir  string
	nextIndex int64
	lastPTS   time.Time
}

func (b *frameBuilder) build(j *FrameLabels) *Frame {
	f := &Frame{
		Index:     b.nextIndex,
		Width:     b.width,
		Height:    b.height,
		SignalRed: j.SignalRed,
	}
	if j.Frame != nil {
		f.Index = *j.Frame
	}
	b.nextIndex = f.Index + 1

	if j.Time != nil {
		f.PTS = b.baseTime.Add(time.Duration(*j.Time * float64(time.Second)))
	} else {
		fps := b.fps
		if fps <= 0 {
			fps = DefaultFPS
		}
		f.PTS = b.baseTime.Add(time.Duration(float64(f.Index) / fps * float64(time.Second)))
	}
	if f.PTS.Before(b.lastPTS) {
		// Never let time run backwards
		f.PTS = b.lastPTS
	}
	b.lastPTS = f.PTS

	if j.Width != 0 {
		f.Width = j.Width
	}
	if j.Height != 0 {
		f.Height = j.Height
	}
	if j.Image != "" {
		f.ImagePath = j.Image
		if !filepath.IsAbs(f.ImagePath) && b.imageDir != "" {
			f.ImagePath = filepath.Join(b.imageDir, f.ImagePath)
		}
	}
	f.Detections, f.Skipped = nn.NormalizeDetections(j.Objects)
	return f
}

// Open a frame source.
// "-" reads a stream of JSON frames from stdin. Files ending in .jsonl or .ndjson are
// read as a stream. Anything else is read as a labels file.
// An error here means that we cannot run at all.
func Open(log logs.Log, uri string) (Source, error) {
	switch {
	case uri == "":
		return nil, fmt.Errorf("No frame source specified")
	case uri == "-":
		src := NewStreamSource(log, os.Stdin, time.Now())
		src.closer = os.Stdin
		return src, nil
	case strings.HasSuffix(uri, ".jsonl"), strings.HasSuffix(uri, ".ndjson"):
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("Failed to open frame source %v: %w", uri, err)
		}
		src := NewStreamSource(log, f, time.Now())
		src.closer = f
		src.builder.imageDir = filepath.Dir(uri)
		return src, nil
	default:
		return OpenLabelsFile(uri)
	}
}

// SliceSource serves frames from memory
type SliceSource struct {
	Frames  []*Frame
	classes []string
	pos     int
}

// NewSliceSource creates a source that returns the given frames, using COCO classes
func NewSliceSource(frames []*Frame) *SliceSource {
	return &SliceSource{
		Frames:  frames,
		classes: nn.COCOClasses,
	}
}

func (s *SliceSource) Next() (*Frame, error) {
	if s.pos >= len(s.Frames) {
		return nil, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

func (s *SliceSource) Classes() []string {
	return s.classes
}

func (s *SliceSource) Close() error {
	return nil
}
