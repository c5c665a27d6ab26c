package framesource

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/nn"
)

// Maximum size of a single JSON line
const maxLineBytes = 16 * 1024 * 1024

// StreamSource reads one JSON frame per line, typically piped in from a
// detector process. Lines that cannot be parsed are logged and skipped.
type StreamSource struct {
	Log     logs.Log
	scanner *bufio.Scanner
	builder frameBuilder
	closer  io.Closer
	lineNo  int
	numBad  int
}

// NewStreamSource reads frames from r. Frames without a "time" field are timed
// relative to baseTime.
func NewStreamSource(log logs.Log, r io.Reader, baseTime time.Time) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &StreamSource{
		Log:     log,
		scanner: scanner,
		builder: frameBuilder{
			baseTime: baseTime,
		},
	}
}

func (s *StreamSource) Next() (*Frame, error) {
	for s.scanner.Scan() {
		s.lineNo++
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		j := FrameLabels{}
		if err := json.Unmarshal(line, &j); err != nil {
			s.numBad++
			s.Log.Warnf("Skipping unreadable frame on line %v: %v", s.lineNo, err)
			continue
		}
		return s.builder.build(&j), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read frame stream: %w", err)
	}
	return nil, io.EOF
}

func (s *StreamSource) Classes() []string {
	return nn.COCOClasses
}

// NumBadLines is the number of lines that were skipped because they were not valid JSON
func (s *StreamSource) NumBadLines() int {
	return s.numBad
}

func (s *StreamSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
