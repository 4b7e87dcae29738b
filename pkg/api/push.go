package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handlePushWS implements the websocket side-channel spec.md §2/§4.J
// describes as the UI's consumer of the frontend push-message bus:
// every existing message is sent on connect, then every Add/Update/
// Remove the bus fans out afterward, mirroring the subscriber-channel
// hub shape noisefs's webui uses for its own announcement feed.
func (s *Server) handlePushWS(w http.ResponseWriter, r *http.Request) {
	if s.push == nil {
		writeError(w, http.StatusServiceUnavailable, "push bus not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for _, m := range s.push.ReadAll() {
		if conn.WriteJSON(m) != nil {
			return
		}
	}

	sub := s.push.Subscribe()
	defer s.push.Unsubscribe(sub)

	// Drain inbound frames (close frames, pings) so the connection's read
	// deadline machinery notices a client disconnect, discarding any
	// payload - this feed is server-to-client only.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	for msg := range sub {
		if conn.WriteJSON(msg) != nil {
			return
		}
	}
}
