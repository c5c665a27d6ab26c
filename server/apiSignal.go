package server

import (
	"net/http"
	"os"
	"time"

	"github.com/cyclopcam/trafficwatch/server/violationdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type pingJSON struct {
	Greeting  string `json:"greeting"`
	Hostname  string `json:"hostname"`
	Time      int64  `json:"time"`
	NumFrames int64  `json:"numFrames"`
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	hostname, _ := os.Hostname()
	www.SendJSON(w, &pingJSON{
		Greeting:  "I am trafficwatch",
		Hostname:  hostname,
		Time:      time.Now().Unix(),
		NumFrames: s.Monitor.NumFrames(),
	})
}

type signalJSON struct {
	Red bool `json:"red"`
}

func (s *Server) httpSignalGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.Monitor.Signal())
}

// Example: curl -X PUT -d '{"red":true}' localhost:8080/api/signal
func (s *Server) httpSignalPut(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var sig *signalJSON
	www.ReadJSON(w, r, &sig, 1024)
	if sig == nil {
		www.PanicBadRequestf("Expected {\"red\": true|false}")
	}
	s.Monitor.SetSignalRed(sig.Red)
	www.SendJSON(w, s.Monitor.Signal())
}

// Returns the analysis of the most recent frame, or null before the first frame
func (s *Server) httpTracks(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendJSON(w, s.Monitor.LatestState())
}

// Example: curl "localhost:8080/api/violations?vehicle=KA01AB1234&from=2025-03-01&to=2025-03-02&limit=10"
func (s *Server) httpViolations(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	from, until, err := violationdb.DayRange(www.QueryValue(r, "from"), www.QueryValue(r, "to"), time.Local)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	filter := &violationdb.ListFilter{
		VehicleNumber: www.QueryValue(r, "vehicle"),
		ViolationType: www.QueryValue(r, "type"),
		From:          from,
		Until:         until,
		Limit:         www.QueryInt(r, "limit"),
	}
	list, err := s.ViolationDB.List(filter)
	www.Check(err)
	www.SendJSON(w, list)
}
