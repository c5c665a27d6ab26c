package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/pkg/perfstats"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/ocr"
	"github.com/cyclopcam/trafficwatch/server/snapshot"
	"github.com/cyclopcam/trafficwatch/server/violationdb"
)

// violationRecorder turns a violation event into a database record, with
// snapshots of the vehicle and its plate, and the plate number if OCR can read it.
type violationRecorder struct {
	log        logs.Log
	db         *violationdb.ViolationDB
	snapshots  *snapshot.Writer
	ocr        ocr.Reader
	ocrMinConf float64
	classes    []string
	timing     perfstats.TimeAccumulator // Only read once the recorder has stopped
}

func (v *violationRecorder) OnViolation(frame *framesource.Frame, ev *monitor.ViolationEvent) error {
	start := time.Now()
	defer v.timing.AddSince(start)

	var extra dbh.JSONField[violationdb.ViolationExtra]
	rec := &violationdb.Violation{
		VehicleNumber: violationdb.UnknownVehicle,
		ViolationType: ev.Kind.String(),
		SpeedKMH:      ev.SpeedKMH,
		Time:          dbh.MakeIntTime(ev.Time),
		TrackID:       ev.TrackID,
		FrameIndex:    ev.FrameIndex,
		Extra:         &extra,
	}

	if frame.ImagePath != "" {
		crops, err := v.snapshots.Save(frame.ImagePath, ev.Box, ev.Kind.String(), ev.Time, ev.FrameIndex)
		if err != nil {
			// Still record the violation, just without pictures
			v.log.Warnf("Snapshot of track %v failed: %v", ev.TrackID, err)
		} else {
			rec.SnapshotPath = crops.VehiclePath
			extra.Data.PlateImagePath = crops.PlatePath
			if crops.Plate != nil {
				v.readPlate(crops, rec, &extra.Data)
			}
		}
	}

	if err := v.db.Add(rec); err != nil {
		return err
	}
	v.log.Infof("Recorded %v by %v (%v, track %v, %.1f km/h)", rec.ViolationType, rec.VehicleNumber, v.className(ev.Class), ev.TrackID, ev.SpeedKMH)
	return nil
}

func (v *violationRecorder) readPlate(crops *snapshot.Crops, rec *violationdb.Violation, extra *violationdb.ViolationExtra) {
	res, err := v.ocr.ReadPlate(context.Background(), crops.Plate)
	if err != nil {
		v.log.Warnf("Plate OCR of track %v failed: %v", rec.TrackID, err)
		return
	}
	if res.Text != "" {
		rec.VehicleNumber = res.Text
	}
	extra.OCRConfidence = res.Confidence
	extra.OCRRawText = res.RawText
	extra.OCRLowConfidence = ocr.IsLowConfidence(res, v.ocrMinConf)
}

func (v *violationRecorder) className(cls int) string {
	if cls >= 0 && cls < len(v.classes) {
		return v.classes[cls]
	}
	return fmt.Sprintf("class %v", cls)
}
