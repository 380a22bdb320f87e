package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"aircon-controller/internal/core"
	"aircon-controller/internal/logger"
	"aircon-controller/internal/scheduler"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
)

// Server manages the HTTP and WebSocket services.
type Server struct {
	Hub          *Hub
	httpServer   *http.Server
	state        *core.State
	eventBus     *core.EventBus
	commands     core.CommandChannel
	getScenes    func() ([]string, error)
	getSchedules func() map[cron.EntryID]scheduler.ScheduleEntry

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer creates a new server instance. Commands received from clients are
// pushed onto the command channel; updates flow back through the event bus.
func NewServer(ctx context.Context, state *core.State, eventBus *core.EventBus, commands core.CommandChannel, getScenes func() ([]string, error), getSchedules func() map[cron.EntryID]scheduler.ScheduleEntry, port string, allowedOrigins []string) *Server {
	hub := NewHub()
	go hub.Run()

	s := &Server{
		Hub:          hub,
		state:        state,
		eventBus:     eventBus,
		commands:     commands,
		getScenes:    getScenes,
		getSchedules: getSchedules,

		allowedOrigins: allowedOrigins,
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				logger.Warn("[Server] WebSocket CheckOrigin is disabled")
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			logger.Warn("[Server] WebSocket connection blocked: origin '%s' not in allowed list", origin)
			return false
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Addr: ":" + port, Handler: mux}

	go s.listenEvents(ctx)

	return s
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.state.Clone()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "ok",
		"transmitterOnline": st.TransmitterOnline,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Server] WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// New clients get a full snapshot before joining the broadcast hub.
	st := s.state.Clone()
	_ = conn.WriteJSON(NewMessage("transmitter_status", map[string]interface{}{
		"online": st.TransmitterOnline,
	}))

	_ = conn.WriteJSON(NewMessage("device_state", statePayload(&st)))

	scenes, err := s.getScenes()
	if err == nil {
		_ = conn.WriteJSON(NewMessage("scene_list", scenes))
	}

	_ = conn.WriteJSON(NewMessage("scene_status", map[string]string{
		"running": st.RunningScene,
	}))

	_ = conn.WriteJSON(NewMessage("schedule_list", s.getSchedules()))

	s.Hub.register <- conn

	defer func() {
		s.Hub.unregister <- conn
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd Command
		if err := json.Unmarshal(msgBytes, &cmd); err != nil {
			logger.Warn("[Server] Dropping malformed command: %v", err)
			continue
		}
		if cmd.Type == "" {
			logger.Warn("[Server] Dropping command without a type")
			continue
		}

		select {
		case s.commands <- core.Command{Type: core.CommandType(cmd.Type), Payload: cmd.Payload, Source: "ws"}:
		default:
			logger.Warn("[Server] Command channel full, dropping %s", cmd.Type)
		}
	}
}

// listenEvents relays bus events to all WebSocket clients.
func (s *Server) listenEvents(ctx context.Context) {
	sub := s.eventBus.Subscribe(
		core.StateChangedEvent,
		core.TransmitterStatusEvent,
		core.SceneChangedEvent,
		core.ScheduleChangedEvent,
		core.CommandSentEvent,
		core.CommandRejectedEvent,
		core.CommandFailedEvent,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub:
			s.Hub.Broadcast(NewMessage(messageType(event.Type), event.Payload))
		}
	}
}

// messageType maps bus event types to the message types clients understand.
func messageType(t core.EventType) string {
	switch t {
	case core.StateChangedEvent:
		return "device_state"
	case core.TransmitterStatusEvent:
		return "transmitter_status"
	case core.SceneChangedEvent:
		return "scene_status"
	case core.ScheduleChangedEvent:
		return "schedule_list"
	case core.CommandSentEvent:
		return "command_sent"
	case core.CommandRejectedEvent:
		return "command_rejected"
	case core.CommandFailedEvent:
		return "command_failed"
	}
	return string(t)
}

func statePayload(st *core.State) map[string]interface{} {
	return map[string]interface{}{
		"power":       st.Power,
		"mode":        st.Mode,
		"temperature": st.Temperature,
		"fanSpeed":    st.FanSpeed,
	}
}
