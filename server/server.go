// Package server wires the frame loop to its collaborators: the violation
// database, snapshots, OCR, the overlay renderer, and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficwatch/server/config"
	"github.com/cyclopcam/trafficwatch/server/framesource"
	"github.com/cyclopcam/trafficwatch/server/monitor"
	"github.com/cyclopcam/trafficwatch/server/ocr"
	"github.com/cyclopcam/trafficwatch/server/overlay"
	"github.com/cyclopcam/trafficwatch/server/snapshot"
	"github.com/cyclopcam/trafficwatch/server/violationdb"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Number of violations that may wait for snapshot/OCR/DB before we start dropping them
const recorderQueueSize = 200

// How long Shutdown waits for the frame loop to notice that it must stop.
// A source that is blocked on stdin may never return.
var runStopTimeout = 5 * time.Second

type Server struct {
	Log         logs.Log
	Config      *config.Config
	Monitor     *monitor.Monitor
	ViolationDB *violationdb.ViolationDB

	ShutdownStarted  chan bool // Closed when Shutdown() starts
	ShutdownComplete chan bool // Closed when Shutdown() is finished

	source         framesource.Source
	recorder       *monitor.AsyncSink
	recorderImpl   *violationRecorder
	signalIn       chan os.Signal
	httpServer     *http.Server
	httpRouter     *httprouter.Router
	wsUpgrader     websocket.Upgrader
	shutdownLock   sync.Mutex
	isShuttingDown bool
	isRunning      bool
	cancelRun      context.CancelFunc
	runDone        chan bool // Closed when Run() returns
}

// NewServer creates the monitor and everything that hangs off it.
// The server takes ownership of source.
func NewServer(logger logs.Log, cfg *config.Config, source framesource.Source, maxFrames int64) (*Server, error) {
	mcfg := cfg.MonitorConfig()
	mcfg.MaxFrames = maxFrames
	mon, err := monitor.NewMonitor(logger, mcfg, source)
	if err != nil {
		return nil, err
	}

	vdb, err := violationdb.NewViolationDB(logger, cfg.Database)
	if err != nil {
		return nil, err
	}

	snaps, err := snapshot.NewWriter(cfg.SnapshotDir)
	if err != nil {
		vdb.Close()
		return nil, err
	}

	var reader ocr.Reader = ocr.NullReader{}
	if cfg.OCRURL != "" {
		logger.Infof("Plate OCR service is %v", cfg.OCRURL)
		reader = ocr.NewHTTPReader(cfg.OCRURL)
	} else {
		logger.Infof("Plate OCR is disabled")
	}

	s := &Server{
		Log:              logger,
		Config:           cfg,
		Monitor:          mon,
		ViolationDB:      vdb,
		ShutdownStarted:  make(chan bool),
		ShutdownComplete: make(chan bool),
		source:           source,
		runDone:          make(chan bool),
	}

	rec := &violationRecorder{
		log:           logger,
		db:            vdb,
		snapshots:     snaps,
		ocr:           reader,
		ocrMinConf:    cfg.OCRMinConfidence,
		classes:       source.Classes(),
	}
	s.recorderImpl = rec
	s.recorder = monitor.NewAsyncSink(logger, "recorder", rec, recorderQueueSize)
	mon.AddSink("recorder", s.recorder)

	if cfg.OverlayDir != "" {
		renderer, err := overlay.NewRenderer(logger, cfg.OverlayDir, source.Classes())
		if err != nil {
			vdb.Close()
			return nil, err
		}
		mon.AddObserver("overlay", renderer)
	}

	s.setupHttpRoutes()
	return s, nil
}

// Run the frame loop until the source is exhausted, or Shutdown is called.
// Run may only be called once.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.shutdownLock.Lock()
	if s.isShuttingDown {
		s.shutdownLock.Unlock()
		return nil
	}
	s.isRunning = true
	s.cancelRun = cancel
	s.shutdownLock.Unlock()
	defer close(s.runDone)

	start := time.Now()
	err := s.Monitor.Run(ctx)
	s.Log.Infof("Processed %v frames in %.1f seconds", s.Monitor.NumFrames(), time.Since(start).Seconds())
	return err
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.shutdownLock.Lock()
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	srv := s.httpServer
	s.shutdownLock.Unlock()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-s.signalIn:
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		case <-s.ShutdownStarted:
			s.Log.Infof("ListenForKillSignals exiting")
		}
		signal.Stop(s.signalIn)
	}()
}

// Shutdown stops the frame loop and the HTTP server, waits for queued
// violations to be recorded, and closes the database.
// It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownLock.Lock()
	if s.isShuttingDown {
		s.shutdownLock.Unlock()
		<-s.ShutdownComplete
		return
	}
	s.isShuttingDown = true
	cancelRun := s.cancelRun
	isRunning := s.isRunning
	httpServer := s.httpServer
	s.shutdownLock.Unlock()

	s.Log.Infof("Shutdown")
	close(s.ShutdownStarted)
	if cancelRun != nil {
		cancelRun()
	}

	if httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
		cancel()
	}

	// Closing the source unblocks a frame loop that is waiting in Next()
	if err := s.source.Close(); err != nil {
		s.Log.Warnf("Closing frame source: %v", err)
	}
	if isRunning {
		s.Log.Infof("Waiting for frame loop")
		select {
		case <-s.runDone:
		case <-time.After(runStopTimeout):
			s.Log.Warnf("Frame loop did not stop within %v", runStopTimeout)
		}
	}

	s.Log.Infof("Waiting for violation recorder")
	s.recorder.Close()
	s.Log.Infof("Violation recording time: %v", &s.recorderImpl.timing)
	s.ViolationDB.Close()
	s.Log.Infof("Shutdown complete")
	close(s.ShutdownComplete)
}

// Describe the server's setup, for the startup log
func (s *Server) String() string {
	return fmt.Sprintf("trafficwatch (limit %v km/h, stop line %v, db %v)", s.Config.SpeedLimitKMH, s.Config.StopLineY, s.Config.Database)
}
