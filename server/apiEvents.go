package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const wsWriteTimeout = 5 * time.Second

// Stream violation events to a websocket client, as they happen.
// Each message is a JSON ViolationEvent.
func (s *Server) httpEventsWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpEventsWebSocket websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	s.Log.Infof("Event websocket client %v connected", r.RemoteAddr)
	incoming := s.Monitor.AddEventWatcher()
	defer s.Monitor.RemoveEventWatcher(incoming)

	// Detect a closed connection. We never expect the client to send us anything.
	clientGone := make(chan bool)
	go func() {
		for {
			if _, _, err := c.NextReader(); err != nil {
				close(clientGone)
				return
			}
		}
	}()

	keepRunning := true
	for keepRunning {
		select {
		case <-s.ShutdownStarted:
			c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
			keepRunning = false
		case <-clientGone:
			keepRunning = false
		case ev := <-incoming:
			c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.WriteJSON(ev); err != nil {
				s.Log.Infof("Event websocket write failed: %v", err)
				keepRunning = false
			}
		}
	}
	s.Log.Infof("Event websocket client %v disconnected", r.RemoteAddr)
}
