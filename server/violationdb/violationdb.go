// Package violationdb stores violation records in SQLite.
package violationdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultListLimit is the number of records returned by List when no limit is given
const DefaultListLimit = 100

// MaxListLimit caps the number of records returned by List
const MaxListLimit = 10000

type ViolationDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create a violation database
func NewViolationDB(logger logs.Log, dbFilename string) (*ViolationDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ViolationDB{
		Log: logger,
		DB:  db,
	}, nil
}

func (v *ViolationDB) Close() {
	if sqlDB, err := v.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Add inserts a violation, and fills in its ID.
// RandomID is generated if it is empty.
func (v *ViolationDB) Add(rec *Violation) error {
	if rec.RandomID == "" {
		rec.RandomID = uuid.NewString()
	}
	if rec.VehicleNumber == "" {
		rec.VehicleNumber = UnknownVehicle
	}
	if err := v.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("Failed to insert violation: %w", err)
	}
	return nil
}

// Get a single violation by ID
func (v *ViolationDB) Get(id int64) (*Violation, error) {
	rec := &Violation{}
	if err := v.DB.First(rec, id).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ListFilter selects violations. Zero values do not filter.
type ListFilter struct {
	VehicleNumber string    // Case insensitive
	ViolationType string    // eg "signal_jump"
	From          time.Time // Inclusive
	Until         time.Time // Exclusive
	Limit         int       // Zero means DefaultListLimit
}

// List returns violations that match the filter, newest first
func (v *ViolationDB) List(filter *ListFilter) ([]*Violation, error) {
	q := v.DB.Model(&Violation{})
	if filter.VehicleNumber != "" {
		q = q.Where("LOWER(vehicle_number) = LOWER(?)", filter.VehicleNumber)
	}
	if filter.ViolationType != "" {
		q = q.Where("violation_type = ?", filter.ViolationType)
	}
	if !filter.From.IsZero() {
		q = q.Where("time >= ?", dbh.MakeIntTime(filter.From))
	}
	if !filter.Until.IsZero() {
		q = q.Where("time < ?", dbh.MakeIntTime(filter.Until))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	result := []*Violation{}
	if err := q.Order("time DESC, id DESC").Limit(limit).Find(&result).Error; err != nil {
		return nil, fmt.Errorf("Failed to list violations: %w", err)
	}
	return result, nil
}

// DayRange converts a pair of dates (YYYY-MM-DD, either may be empty) into the
// From/Until values of a ListFilter. The 'to' day is included in full.
func DayRange(from, to string, loc *time.Location) (start, until time.Time, err error) {
	if from != "" {
		start, err = time.ParseInLocation(time.DateOnly, from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("Invalid 'from' date '%v': %w", from, err)
		}
	}
	if to != "" {
		var day time.Time
		day, err = time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("Invalid 'to' date '%v': %w", to, err)
		}
		until = day.AddDate(0, 0, 1)
	}
	return
}

// Count returns the total number of violations
func (v *ViolationDB) Count() (int64, error) {
	n := int64(0)
	err := v.DB.Model(&Violation{}).Count(&n).Error
	return n, err
}
