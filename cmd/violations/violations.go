package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/server/violationdb"
)

func main() {
	parser := argparse.NewParser("violations", "List recorded traffic violations, newest first")
	dbFile := parser.String("d", "database", &argparse.Options{Help: "Violation database", Default: "violations.sqlite"})
	vehicle := parser.String("v", "vehicle", &argparse.Options{Help: "Vehicle number (case insensitive)", Default: ""})
	kind := parser.String("t", "type", &argparse.Options{Help: "over_speeding or signal_jump", Default: ""})
	from := parser.String("", "from", &argparse.Options{Help: "First day (YYYY-MM-DD)", Default: ""})
	to := parser.String("", "to", &argparse.Options{Help: "Last day, inclusive (YYYY-MM-DD)", Default: ""})
	limit := parser.Int("n", "limit", &argparse.Options{Help: "Maximum number of records", Default: violationdb.DefaultListLimit})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(*dbFile); err != nil {
		logger.Errorf("Database %v not found", *dbFile)
		os.Exit(1)
	}

	fromTime, untilTime, err := violationdb.DayRange(*from, *to, time.Local)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	db, err := violationdb.NewViolationDB(logger, *dbFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer db.Close()

	list, err := db.List(&violationdb.ListFilter{
		VehicleNumber: *vehicle,
		ViolationType: *kind,
		From:          fromTime,
		Until:         untilTime,
		Limit:         *limit,
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTIME\tVEHICLE\tTYPE\tSPEED\tOCR\tSNAPSHOT\n")
	for _, v := range list {
		extra := v.ExtraData()
		ocrConf := fmt.Sprintf("%.2f", extra.OCRConfidence)
		if extra.OCRLowConfidence {
			ocrConf += " (low)"
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%.1f\t%v\t%v\n", v.ID, v.GetTime().Local().Format(time.DateTime), v.VehicleNumber, v.ViolationType, v.SpeedKMH, ocrConf, v.SnapshotPath)
	}
	tw.Flush()
	fmt.Printf("%v violations\n", len(list))
}
