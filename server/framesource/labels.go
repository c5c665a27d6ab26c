package framesource

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// VideoLabels is a file of detections for every frame of a video, as written
// by an offline detector run.
type VideoLabels struct {
	Classes   []string      `json:"classes,omitempty"` // If empty, COCO classes are assumed
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	FPS       float64       `json:"fps,omitempty"`
	StartTime *time.Time    `json:"startTime,omitempty"` // Wall time of the first frame. Defaults to the time the file is opened.
	Frames    []FrameLabels `json:"frames"`
}

// LabelsSource replays a VideoLabels file
type LabelsSource struct {
	labels  *VideoLabels
	builder frameBuilder
	pos     int
}

// OpenLabelsFile reads and parses the entire labels file
func OpenLabelsFile(filename string) (*LabelsSource, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to open frame source %v: %w", filename, err)
	}
	labels := &VideoLabels{}
	if err := json.Unmarshal(raw, labels); err != nil {
		return nil, fmt.Errorf("Failed to parse labels file %v: %w", filename, err)
	}
	return NewLabelsSource(labels, filepath.Dir(filename)), nil
}

// NewLabelsSource replays labels that are already in memory.
// Relative image paths are resolved against imageDir.
func NewLabelsSource(labels *VideoLabels, imageDir string) *LabelsSource {
	start := time.Now()
	if labels.StartTime != nil {
		start = *labels.StartTime
	}
	return &LabelsSource{
		labels: labels,
		builder: frameBuilder{
			baseTime: start,
			fps:      labels.FPS,
			width:    labels.Width,
			height:   labels.Height,
			imageDir: imageDir,
		},
	}
}

func (s *LabelsSource) Next() (*Frame, error) {
	if s.pos >= len(s.labels.Frames) {
		return nil, io.EOF
	}
	f := s.builder.build(&s.labels.Frames[s.pos])
	s.pos++
	return f, nil
}

func (s *LabelsSource) Classes() []string {
	if len(s.labels.Classes) == 0 {
		return nn.COCOClasses
	}
	return s.labels.Classes
}

func (s *LabelsSource) Close() error {
	return nil
}

// NumFrames is the total number of frames in the file
func (s *LabelsSource) NumFrames() int {
	return len(s.labels.Frames)
}
