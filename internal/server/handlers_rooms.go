package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"davinci-code/internal/game"
	"davinci-code/internal/store"

	"github.com/google/uuid"
)

type createRoomRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

type readyRequest struct {
	UID   string `json:"uid"`
	Ready bool   `json:"ready"`
}

type uidRequest struct {
	UID string `json:"uid"`
}

type guessRequest struct {
	UID        string `json:"uid"`
	TargetSeat int    `json:"target_seat"`
	CardIndex  int    `json:"card_index"`
	Rank       int    `json:"rank"`
	IsBlack    bool   `json:"is_black"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	displayName := strings.TrimSpace(req.DisplayName)
	if name == "" || displayName == "" {
		writeError(w, http.StatusBadRequest, "name and display_name are required")
		return
	}

	roomID := uuid.NewString()
	hostUID := uuid.NewString()

	batch := &store.Batch{}
	batch.Set(game.RoomRef(roomID), game.RoomRecord{
		Name:        name,
		Status:      game.RoomStatusLobby,
		HostUID:     hostUID,
		PlayerCount: 1,
		MaxPlayers:  game.Seats,
	})
	batch.Set(game.RosterRef(roomID), game.RosterRecord{UIDs: []string{hostUID}})
	batch.Set(game.PlayerRef(roomID, hostUID), game.PlayerRecord{
		UID:         hostUID,
		DisplayName: displayName,
		Seat:        0,
	})
	if err := s.st.ApplyBatch(r.Context(), batch); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	s.register(roomID, hostUID)
	s.persistEvent(roomID, hostUID, "room_created", map[string]any{"name": name})
	log.Printf("room created room_id=%s host_uid=%s", roomID, hostUID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"room_id": roomID,
		"uid":     hostUID,
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	summaries := make([]map[string]any, 0)
	for _, roomID := range s.roomIDs() {
		var room game.RoomRecord
		if err := s.st.Get(r.Context(), game.RoomRef(roomID), &room); err != nil {
			continue
		}
		summaries = append(summaries, map[string]any{
			"room_id":      roomID,
			"name":         room.Name,
			"status":       room.Status,
			"player_count": room.PlayerCount,
			"max_players":  room.MaxPlayers,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": summaries})
}

func (s *Server) handleRoomSubroutes(w http.ResponseWriter, r *http.Request) {
	roomID, action, ok := parseRoomPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		switch action {
		case "":
			s.handleGetRoom(w, r, roomID)
		case "hand":
			s.handleGetHand(w, r, roomID)
		case "events":
			s.handleListEvents(w, r, roomID)
		default:
			http.NotFound(w, r)
		}
	case http.MethodPost:
		switch action {
		case "join":
			s.handleJoinRoom(w, r, roomID)
		case "leave":
			s.handleLeaveRoom(w, r, roomID)
		case "ready":
			s.handleReady(w, r, roomID)
		case "start":
			s.handleStartMatch(w, r, roomID)
		case "draw":
			s.handleDraw(w, r, roomID)
		case "guess":
			s.handleGuess(w, r, roomID)
		case "continue":
			s.handleContinueGuess(w, r, roomID)
		case "end-turn":
			s.handleEndTurn(w, r, roomID)
		default:
			http.NotFound(w, r)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	snap, err := s.snapshot(r.Context(), roomID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	var req joinRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	uid := uuid.NewString()
	seat := 0
	err := s.st.RunTransaction(r.Context(), func(tx *store.Tx) error {
		var room game.RoomRecord
		if err := tx.Get(game.RoomRef(roomID), &room); err != nil {
			return err
		}
		if room.Status != game.RoomStatusLobby {
			return errMatchInProgress
		}
		if room.PlayerCount >= room.MaxPlayers {
			return errRoomFull
		}
		var roster game.RosterRecord
		if err := tx.Get(game.RosterRef(roomID), &roster); err != nil {
			return err
		}
		seat = len(roster.UIDs)
		roster.UIDs = append(roster.UIDs, uid)
		room.PlayerCount = len(roster.UIDs)

		if err := tx.Set(game.PlayerRef(roomID, uid), game.PlayerRecord{
			UID:         uid,
			DisplayName: displayName,
			Seat:        seat,
		}); err != nil {
			return err
		}
		if err := tx.Set(game.RosterRef(roomID), roster); err != nil {
			return err
		}
		return tx.Set(game.RoomRef(roomID), room)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, errRoomFull):
		writeError(w, http.StatusConflict, "room is full")
		return
	case errors.Is(err, errMatchInProgress):
		writeError(w, http.StatusConflict, "match already in progress")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	s.touch(roomID)
	s.persistEvent(roomID, uid, "player_joined", map[string]any{"seat": seat})
	log.Printf("player joined room_id=%s uid=%s seat=%d", roomID, uid, seat)
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"uid":     uid,
		"seat":    seat,
	})
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	var req uidRequest
	if err := readJSON(r.Body, &req); err != nil || req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	empty := false
	err := s.st.RunTransaction(r.Context(), func(tx *store.Tx) error {
		empty = false
		var room game.RoomRecord
		if err := tx.Get(game.RoomRef(roomID), &room); err != nil {
			return err
		}
		if room.Status != game.RoomStatusLobby {
			return errMatchInProgress
		}
		var roster game.RosterRecord
		if err := tx.Get(game.RosterRef(roomID), &roster); err != nil {
			return err
		}
		kept := make([]string, 0, len(roster.UIDs))
		for _, uid := range roster.UIDs {
			if uid != req.UID {
				kept = append(kept, uid)
			}
		}
		if len(kept) == len(roster.UIDs) {
			return store.ErrNotFound
		}
		if len(kept) == 0 {
			empty = true
			tx.Delete(game.PlayerRef(roomID, req.UID))
			tx.Delete(game.RosterRef(roomID))
			tx.Delete(game.RoomRef(roomID))
			return nil
		}

		// Reseat the remaining players so the lobby stays dense. All reads
		// come before the first staged write.
		remaining := make([]game.PlayerRecord, len(kept))
		for i, uid := range kept {
			if err := tx.Get(game.PlayerRef(roomID, uid), &remaining[i]); err != nil {
				return err
			}
		}
		for seat, p := range remaining {
			p.Seat = seat
			if err := tx.Set(game.PlayerRef(roomID, p.UID), p); err != nil {
				return err
			}
		}
		roster.UIDs = kept
		room.PlayerCount = len(kept)
		if room.HostUID == req.UID {
			room.HostUID = kept[0]
		}
		tx.Delete(game.PlayerRef(roomID, req.UID))
		if err := tx.Set(game.RosterRef(roomID), roster); err != nil {
			return err
		}
		return tx.Set(game.RoomRef(roomID), room)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, errMatchInProgress):
		writeError(w, http.StatusConflict, "cannot leave a running match")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to leave room")
		return
	}
	if empty {
		s.dropRoom(roomID)
	} else {
		s.touch(roomID)
	}
	s.persistEvent(roomID, req.UID, "player_left", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request, roomID string) {
	var req readyRequest
	if err := readJSON(r.Body, &req); err != nil || req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	err := s.st.RunTransaction(r.Context(), func(tx *store.Tx) error {
		var p game.PlayerRecord
		if err := tx.Get(game.PlayerRef(roomID, req.UID), &p); err != nil {
			return err
		}
		if p.Ready == req.Ready {
			return nil
		}
		p.Ready = req.Ready
		return tx.Set(game.PlayerRef(roomID, req.UID), p)
	})
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update ready state")
		return
	}
	s.touch(roomID)
	writeJSON(w, http.StatusOK, map[string]bool{"ready": req.Ready})
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request, roomID string) {
	var req uidRequest
	if err := readJSON(r.Body, &req); err != nil || req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	var room game.RoomRecord
	if err := s.st.Get(r.Context(), game.RoomRef(roomID), &room); err != nil {
		http.NotFound(w, r)
		return
	}
	if room.HostUID != req.UID {
		writeError(w, http.StatusForbidden, "only the host can start the match")
		return
	}
	if room.PlayerCount != game.Seats {
		writeError(w, http.StatusConflict, fmt.Sprintf("need %d players, have %d", game.Seats, room.PlayerCount))
		return
	}
	var roster game.RosterRecord
	if err := s.st.Get(r.Context(), game.RosterRef(roomID), &roster); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read roster")
		return
	}
	for _, uid := range roster.UIDs {
		var p game.PlayerRecord
		if err := s.st.Get(r.Context(), game.PlayerRef(roomID, uid), &p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read players")
			return
		}
		if uid != room.HostUID && !p.Ready {
			writeError(w, http.StatusConflict, "not all players are ready")
			return
		}
	}

	if err := s.repo(roomID, req.UID).HostStartMatch(r.Context(), s.cfg.CardsPerPlayer); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start match")
		return
	}
	s.touch(roomID)
	s.startWatcher(roomID, room.HostUID)
	log.Printf("match started room_id=%s host_uid=%s", roomID, req.UID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

var (
	errRoomFull        = errors.New("room is full")
	errMatchInProgress = errors.New("match in progress")
)
