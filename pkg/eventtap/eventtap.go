// Package eventtap mirrors a session's event-router traffic to connected
// debug clients over websocket, the Go analogue of the teacher's tap
// apiserver (controller/tap/apiserver.go) but streaming pkg/events.Event
// values instead of proxy request/response pairs.
package eventtap

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	logging "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/pkg/events"
)

// Server routes /tap websocket upgrades and mirrors every event sent
// through topic to each connected client, in registration order.
type Server struct {
	router   *httprouter.Router
	topic    *events.Topic
	upgrader websocket.Upgrader
	log      *logging.Entry
}

// NewServer builds a Server watching topic. Accept-Origin checks are left
// to the embedding http.Server's own middleware; this package only
// upgrades and streams.
func NewServer(topic *events.Topic, log *logging.Entry) *Server {
	s := &Server{
		router: httprouter.New(),
		topic:  topic,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "eventtap"),
	}
	s.router.GET("/tap", s.handleTap)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// handleTap upgrades the connection and relays events until the client
// disconnects or a write fails.
func (s *Server) handleTap(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	listener := events.ListenerFunc(func(ev *events.Event) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		return false
	})
	unregister := s.topic.Register(listener)
	defer unregister()

	// Block until the client goes away; ReadMessage also surfaces a
	// control-frame close, which is the only inbound traffic expected on
	// this connection.
	for {
		select {
		case <-done:
			return
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
