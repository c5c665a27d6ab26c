package violationdb

import (
	"time"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Violation is a recorded traffic violation
type Violation struct {
	BaseModel
	RandomID      string                         `json:"randomID"`      // Used to ensure uniqueness when merging databases
	VehicleNumber string                         `json:"vehicleNumber"` // Cleaned plate text, or UnknownVehicle
	ViolationType string                         `json:"violationType"` // eg "over_speeding"
	SpeedKMH      float64                        `json:"speedKmph"`
	Time          dbh.IntTime                    `json:"time"`
	SnapshotPath  string                         `json:"snapshotPath"` // Crop of the vehicle. Empty if no frame image was available.
	TrackID       int64                          `json:"trackID"`
	FrameIndex    int64                          `json:"frameIndex"`
	Extra         *dbh.JSONField[ViolationExtra] `json:"extra"`
}

// ViolationExtra holds details of the plate read
type ViolationExtra struct {
	OCRConfidence    float64 `json:"ocrConfidence"`
	OCRLowConfidence bool    `json:"ocrLowConfidence"`
	OCRRawText       string  `json:"ocrRawText,omitempty"`
	PlateImagePath   string  `json:"plateImagePath,omitempty"`
}

// UnknownVehicle is the vehicle number when no plate could be read
const UnknownVehicle = "UNKNOWN"

func (v *Violation) GetTime() time.Time {
	return v.Time.Get()
}

// ExtraData returns the extra details, or a zero value if there are none
func (v *Violation) ExtraData() ViolationExtra {
	if v.Extra == nil {
		return ViolationExtra{}
	}
	return v.Extra.Data
}
