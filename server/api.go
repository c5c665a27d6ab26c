package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, handle)
	}

	// Signal controllers should not need to update the phase more than a few times per second
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/signal", s.httpSignalGet)
	ratelimited("PUT", "/api/signal", s.httpSignalPut, 20, time.Second)
	handle("GET", "/api/tracks", s.httpTracks)
	handle("GET", "/api/violations", s.httpViolations)
	handle("GET", "/api/ws/events", s.httpEventsWebSocket)

	metrics := promhttp.Handler()
	router.Handler("GET", "/metrics", metrics)

	s.httpRouter = router
}
