package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cyclopcam/trafficwatch/pkg/nn"
	"github.com/cyclopcam/trafficwatch/pkg/speed"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/tracking"
)

// Environment variables that override the config file
const (
	EnvSpeedLimit = "SPEED_LIMIT_KMPH"
	EnvStopLineY  = "STOP_LINE_Y"
	EnvOCRMinConf = "OCR_MIN_CONF"
)

type Config struct {
	PixelsPerMeter   float64  `json:"pixelsPerMeter"`   // Calibration constant for the whole frame
	SpeedLimitKMH    float64  `json:"speedLimitKmph"`   // Speeds strictly above this are violations
	StopLineY        int      `json:"stopLineY"`        // Pixel row of the stop line
	MaxMatchDistance float64  `json:"maxMatchDistance"` // Max pixel distance between centroids on consecutive frames
	MaxLostTime      float64  `json:"maxLostTime"`      // Seconds before an unseen track is destroyed
	HistorySize      int      `json:"historySize"`      // Centroids retained per track
	Matcher          string   `json:"matcher"`          // "greedy" or "hungarian"
	VehicleClasses   []string `json:"vehicleClasses"`   // Detector class names that are tracked
	MinConfidence    float32  `json:"minConfidence"`    // Detections below this confidence are ignored
	InitialSignalRed bool     `json:"initialSignalRed"` // Signal phase before any update arrives
	OCRURL           string   `json:"ocrURL"`           // Plate OCR service. Empty disables OCR.
	OCRMinConfidence float64  `json:"ocrMinConfidence"` // Plate reads below this are flagged as low confidence
	SnapshotDir      string   `json:"snapshotDir"`      // Where vehicle and plate crops are written
	Database         string   `json:"database"`         // SQLite file for violation records
	HTTPAddr         string   `json:"httpAddr"`         // eg ":8080". Empty disables the HTTP server.
	OverlayDir       string   `json:"overlayDir"`       // Where annotated frames are written. Empty disables.
	Verbose          bool     `json:"verbose"`
}

func DefaultConfig() *Config {
	vehicles := []string{}
	for _, c := range nn.COCOVehicles {
		vehicles = append(vehicles, nn.COCOClasses[c])
	}
	return &Config{
		PixelsPerMeter:   8,
		SpeedLimitKMH:    60,
		StopLineY:        350,
		MaxMatchDistance: 50,
		MaxLostTime:      1,
		HistorySize:      tracking.DefaultHistorySize,
		Matcher:          "greedy",
		VehicleClasses:   vehicles,
		MinConfidence:    0.4,
		InitialSignalRed: true,
		OCRMinConfidence: 0.3,
		SnapshotDir:      "snapshots",
		Database:         "violations.sqlite",
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
// An empty filename returns the defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
// Empty variables are ignored, but unparseable values are an error.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvSpeedLimit); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("Invalid %v '%v': %w", EnvSpeedLimit, v, err)
		}
		c.SpeedLimitKMH = f
	}
	if v := os.Getenv(EnvStopLineY); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("Invalid %v '%v': %w", EnvStopLineY, v, err)
		}
		c.StopLineY = i
	}
	if v := os.Getenv(EnvOCRMinConf); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("Invalid %v '%v': %w", EnvOCRMinConf, v, err)
		}
		c.OCRMinConfidence = f
	}
	return nil
}

// Validate checks the constraints that the frame loop depends on.
// The upper bound of StopLineY depends on the frame height, which is only known
// once frames arrive.
func (c *Config) Validate() error {
	if !(c.PixelsPerMeter > 0) {
		return fmt.Errorf("pixelsPerMeter must be greater than zero (got %v)", c.PixelsPerMeter)
	}
	if !(c.SpeedLimitKMH > 0) {
		return fmt.Errorf("speedLimitKmph must be greater than zero (got %v)", c.SpeedLimitKMH)
	}
	if c.StopLineY < 0 {
		return fmt.Errorf("stopLineY may not be negative (got %v)", c.StopLineY)
	}
	if !(c.MaxMatchDistance > 0) {
		return fmt.Errorf("maxMatchDistance must be greater than zero (got %v)", c.MaxMatchDistance)
	}
	if !(c.MaxLostTime > 0) {
		return fmt.Errorf("maxLostTime must be greater than zero (got %v)", c.MaxLostTime)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("historySize must be greater than zero (got %v)", c.HistorySize)
	}
	if _, ok := tracking.MatcherByName(c.Matcher); !ok {
		return fmt.Errorf("Unknown matcher '%v'. Valid values are 'greedy' and 'hungarian'", c.Matcher)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be between 0 and 1 (got %v)", c.MinConfidence)
	}
	if c.OCRMinConfidence < 0 || c.OCRMinConfidence > 1 {
		return fmt.Errorf("ocrMinConfidence must be between 0 and 1 (got %v)", c.OCRMinConfidence)
	}
	return nil
}

// MonitorConfig translates the settings into the frame loop's configuration.
// The config must be valid.
func (c *Config) MonitorConfig() monitor.Config {
	matcher, _ := tracking.MatcherByName(c.Matcher)
	return monitor.Config{
		Tracking: tracking.Config{
			MaxMatchDistance: c.MaxMatchDistance,
			MaxLostTime:      time.Duration(c.MaxLostTime * float64(time.Second)),
			HistorySize:      c.HistorySize,
			Speed: speed.Estimator{
				PixelsPerMeter: c.PixelsPerMeter,
				LimitKMH:       c.SpeedLimitKMH,
			},
			Matcher: matcher,
		},
		StopLineY:        c.StopLineY,
		InitialSignalRed: c.InitialSignalRed,
		VehicleClasses:   c.VehicleClasses,
		MinConfidence:    c.MinConfidence,
		Verbose:          c.Verbose,
	}
}
