package violationdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE violation(
			id INTEGER PRIMARY KEY,
			random_id TEXT NOT NULL,
			vehicle_number TEXT NOT NULL,
			violation_type TEXT NOT NULL,
			speed_kmh REAL NOT NULL,
			time INT NOT NULL,
			snapshot_path TEXT NOT NULL,
			track_id INT NOT NULL,
			frame_index INT NOT NULL,
			extra TEXT
		);
		CREATE INDEX idx_violation_time ON violation(time);
		CREATE INDEX idx_violation_vehicle_number ON violation(vehicle_number);
		`))

	return migs
}
