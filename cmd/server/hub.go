package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"epicore/internal/sim"
)

// controlHub fans snapshots out to every connected websocket client and
// applies the control updates they send back. Both directions carry
// protobuf-encoded google.protobuf.Struct messages.
type controlHub struct {
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
}

func newControlHub() *controlHub {
	return &controlHub{
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *controlHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *controlHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

func (h *controlHub) broadcast(snap sim.Snapshot) {
	payload, err := encodeSnapshot(snap)
	if err != nil {
		log.Printf("failed to marshal snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			log.Printf("failed to write to client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *controlHub) handler(simulation *sim.Simulation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed: %v", err)
			return
		}
		h.add(conn)
		defer h.remove(conn)

		// Send the current state immediately.
		h.broadcast(simulation.Snapshot())

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("control stream read error: %v", err)
				return
			}

			settings, err := decodeControl(data, currentSettings(simulation))
			if err != nil {
				log.Printf("unable to decode control update: %v", err)
				continue
			}
			h.broadcast(simulation.ApplyControlSettings(settings))
		}
	}
}

func currentSettings(s *sim.Simulation) sim.ControlSettings {
	return sim.ControlSettings{
		TransmissionModifier: s.CurrentTransmissionModifier(),
		LockdownEnabled:      s.LockdownEnabled(),
		HospitalCapacity:     s.HospitalCapacity(),
	}
}

// decodeControl reads a control update on top of current. Fields the client
// leaves out keep their current value.
func decodeControl(data []byte, current sim.ControlSettings) (sim.ControlSettings, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return current, err
	}
	fields := msg.GetFields()
	if v, ok := fields["transmission_modifier"]; ok {
		current.TransmissionModifier = v.GetNumberValue()
	}
	if v, ok := fields["lockdown_enabled"]; ok {
		current.LockdownEnabled = v.GetBoolValue()
	}
	if v, ok := fields["hospital_capacity"]; ok {
		current.HospitalCapacity = int(v.GetNumberValue())
	}
	return current, nil
}

func snapshotStruct(snap sim.Snapshot) (*structpb.Struct, error) {
	policies := make([]any, len(snap.ActivePolicies))
	for i, p := range snap.ActivePolicies {
		policies[i] = p
	}
	return structpb.NewStruct(map[string]any{
		"day":                   snap.Day,
		"date":                  snap.Date.Format(time.RFC3339),
		"susceptible":           snap.Susceptible,
		"infected":              snap.Infected,
		"recovered":             snap.Recovered,
		"dead":                  snap.Dead,
		"hospitalised":          snap.Hospitalised,
		"icu":                   snap.ICU,
		"new_infections":        snap.NewInfections,
		"transmission_modifier": snap.TransmissionModifier,
		"lockdown_enabled":      snap.LockdownEnabled,
		"hospital_capacity":     snap.HospitalCapacity,
		"overloaded":            snap.Overloaded,
		"active_policies":       policies,
		"finished":              snap.Finished,
	})
}

func encodeSnapshot(snap sim.Snapshot) ([]byte, error) {
	msg, err := snapshotStruct(snap)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}
