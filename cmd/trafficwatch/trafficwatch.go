package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/server"
	"github.com/cyclopcam/trafficwatch/server/config"
	"github.com/cyclopcam/trafficwatch/server/framesource"
)

func main() {
	parser := argparse.NewParser("trafficwatch", "Detect over-speeding and signal jumping from vehicle detections")
	source := parser.String("s", "source", &argparse.Options{Required: true, Help: "Detections: a labels JSON file, a JSONL stream, or - for a JSONL stream on stdin"})
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	maxFrames := parser.Int("", "max-frames", &argparse.Options{Help: "Stop after this many frames (0 = no limit)", Default: 0})
	overlayDir := parser.String("", "overlay", &argparse.Options{Help: "Write annotated frames into this directory", Default: ""})
	httpAddr := parser.String("", "http", &argparse.Options{Help: "Serve the HTTP API on this address (eg :8080)", Default: ""})
	signalGreen := parser.Flag("", "signal-green", &argparse.Options{Help: "Start with the signal green instead of red", Default: false})
	verbose := parser.Flag("", "verbose", &argparse.Options{Help: "Log more details", Default: false})
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

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *overlayDir != "" {
		cfg.OverlayDir = *overlayDir
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *signalGreen {
		cfg.InitialSignalRed = false
	}
	if *verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	src, err := framesource.Open(logger, *source)
	if err != nil {
		logger.Errorf("Failed to open source: %v", err)
		os.Exit(1)
	}

	srv, err := server.NewServer(logger, cfg, src, int64(*maxFrames))
	if err != nil {
		src.Close()
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.Infof("Starting %v", srv)
	srv.ListenForKillSignals()

	if cfg.HTTPAddr != "" {
		go func() {
			if err := srv.ListenHTTP(cfg.HTTPAddr); err != nil {
				logger.Errorf("ListenHTTP returned: %v", err)
			}
		}()
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// A kill signal shuts the server down from another goroutine, possibly while
	// the frame loop is still blocked on its source.
	runResult := make(chan error, 1)
	go func() {
		runResult <- srv.Run()
	}()
	var runErr error
	select {
	case runErr = <-runResult:
		srv.Shutdown()
	case <-srv.ShutdownComplete:
		select {
		case runErr = <-runResult:
		default:
		}
	}
	if runErr != nil {
		logger.Errorf("%v", runErr)
		os.Exit(1)
	}
}
