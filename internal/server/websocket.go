package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"davinci-code/internal/store"

	"github.com/gorilla/websocket"
)

type wsHub struct {
	mu     sync.Mutex
	groups map[string]map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{
		groups: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *wsHub) Add(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		group = make(map[*websocket.Conn]struct{})
		h.groups[roomID] = group
	}
	group[conn] = struct{}{}
}

func (h *wsHub) Remove(roomID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		return
	}
	delete(group, conn)
	_ = conn.Close()
	if len(group) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *wsHub) CloseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.groups[roomID] {
		_ = conn.Close()
	}
	delete(h.groups, roomID)
}

func (h *wsHub) Send(conn *websocket.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (h *wsHub) Broadcast(roomID string, payload any) {
	h.mu.Lock()
	group := h.groups[roomID]
	conns := make([]*websocket.Conn, 0, len(group))
	for conn := range group {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Remove(roomID, conn)
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	roomID, ok := parseWebsocketPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	snap, err := s.snapshot(r.Context(), roomID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log.Printf("ws connected room_id=%s remote=%s", roomID, r.RemoteAddr)
	s.ws.Add(roomID, conn)
	s.ws.Send(conn, snap)
	go s.readWS(roomID, conn)
}

func (s *Server) readWS(roomID string, conn *websocket.Conn) {
	defer s.ws.Remove(roomID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Printf("ws disconnected room_id=%s error=%v", roomID, err)
			return
		}
	}
}

// broadcastLoop pushes a fresh snapshot to a room's sockets whenever any of
// its documents commit. Bursts coalesce: the queue is drained before the
// snapshot is built.
func (s *Server) broadcastLoop(ctx context.Context) {
	sub := s.st.Subscribe(store.Ref("rooms/"))
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			touched := map[string]struct{}{}
			stage := func(e store.Event) {
				rel := strings.TrimPrefix(string(e.Ref), "rooms/")
				if roomID, _, _ := strings.Cut(rel, "/"); roomID != "" {
					touched[roomID] = struct{}{}
				}
			}
			stage(evt)
			for {
				select {
				case evt, ok := <-sub.C():
					if !ok {
						return
					}
					stage(evt)
					continue
				default:
				}
				break
			}
			for roomID := range touched {
				snap, err := s.snapshot(ctx, roomID)
				if err != nil {
					continue
				}
				s.ws.Broadcast(roomID, snap)
			}
		}
	}
}
