package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/telemetryhub/broadcast"
	"github.com/c360/telemetryhub/telemetry"
)

// wsFrame is the envelope for control frames on both sockets.
type wsFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// authUpgrade verifies the query token, upgrades, and joins the hub
// group. Invalid tokens still upgrade so the client receives a 1008
// close with the reason, then the connection is dropped.
func (s *Server) authUpgrade(w http.ResponseWriter, r *http.Request, group string) (*websocket.Conn, string, bool) {
	token := r.URL.Query().Get("token")
	_, authErr := s.verifier.Verify(token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return nil, "", false
	}

	if authErr != nil {
		reason := closeReason(authErr)
		deadline := time.Now().Add(5 * time.Second)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.Close()
		return nil, "", false
	}

	id := s.hub.Connect(group, conn)
	conn.SetPongHandler(func(string) error {
		s.hub.Touch(group, id)
		return nil
	})
	return conn, id, true
}

// handleControllerTelemetry is the ingress socket: each text message is
// one batch in the same JSON shape as the REST endpoint. An entirely
// invalid batch gets an error frame; per-item drops are silent.
func (s *Server) handleControllerTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := s.authUpgrade(w, r, broadcast.GroupController)
	if !ok {
		return
	}
	defer s.hub.Disconnect(broadcast.GroupController, id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req batchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendFrame(broadcast.GroupController, id, wsFrame{Type: "error", Message: "malformed batch"})
			continue
		}

		if _, err := s.pipeline.Ingest(r.Context(), req.Datapoints, telemetry.SourceWebSocket); err != nil {
			s.sendFrame(broadcast.GroupController, id, wsFrame{Type: "error", Message: err.Error()})
		}
	}
}

// handleDatapointStream is the egress socket: a connected greeting,
// app-level ping/pong, and datapoints_batch pushes from the frontend
// group.
func (s *Server) handleDatapointStream(w http.ResponseWriter, r *http.Request) {
	conn, id, ok := s.authUpgrade(w, r, broadcast.GroupFrontend)
	if !ok {
		return
	}
	defer s.hub.Disconnect(broadcast.GroupFrontend, id)

	s.sendFrame(broadcast.GroupFrontend, id, wsFrame{Type: "connected", Message: "datapoint stream ready"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == "ping" {
			s.sendFrame(broadcast.GroupFrontend, id, wsFrame{Type: "pong"})
		}
	}
}

// sendFrame queues a control frame through the hub so all writes to
// the conn stay on its writer goroutine.
func (s *Server) sendFrame(group, id string, frame wsFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := s.hub.Send(group, id, data); err != nil {
		s.logger.Debug("frame send failed", "group", group, "member_id", id, "error", err)
	}
}
