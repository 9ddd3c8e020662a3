package server

import (
	"context"
	"errors"
	"log"
	"time"

	"davinci-code/internal/game"
	"davinci-code/internal/store"
)

// startWatcher runs the host-identity projection for a room in the
// background. The projection carries the self-healing duties (deck-empty
// forcing, turn reconciliation, end-of-match reset), so a match keeps moving
// even when the host's own client goes away.
func (s *Server) startWatcher(roomID, hostUID string) {
	s.roomsMu.Lock()
	entry, ok := s.rooms[roomID]
	if !ok {
		entry = &roomEntry{hostUID: hostUID, lastActive: time.Now()}
		s.rooms[roomID] = entry
	}
	if entry.stopWatcher != nil {
		s.roomsMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	entry.stopWatcher = cancel
	s.roomsMu.Unlock()

	proj := game.NewProjection(s.st, s.repo(roomID, hostUID), roomID, hostUID, s.cfg.CardsPerPlayer)
	go func() {
		if err := proj.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("room watcher stopped room_id=%s error=%v", roomID, err)
		}
	}()
}

// dropRoom forgets a room: watcher cancelled, sockets closed, registry entry
// removed. The documents themselves are the caller's concern.
func (s *Server) dropRoom(roomID string) {
	s.roomsMu.Lock()
	entry, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.roomsMu.Unlock()
	if ok && entry.stopWatcher != nil {
		entry.stopWatcher()
	}
	s.ws.CloseRoom(roomID)
}

// SweepIdleRooms deletes rooms with no activity for longer than maxIdle.
// Rooms in a running match get a grace pass unless they are idle too; an
// abandoned mid-match room is still garbage after the threshold.
func (s *Server) SweepIdleRooms(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	s.roomsMu.Lock()
	stale := make([]string, 0)
	for roomID, entry := range s.rooms {
		if entry.lastActive.Before(cutoff) {
			stale = append(stale, roomID)
		}
	}
	s.roomsMu.Unlock()

	for _, roomID := range stale {
		if err := s.deleteRoomDocuments(roomID); err != nil {
			log.Printf("room sweep failed room_id=%s error=%v", roomID, err)
			continue
		}
		s.dropRoom(roomID)
		s.persistEvent(roomID, "", "room_swept", nil)
		log.Printf("room swept room_id=%s idle_minutes=%.0f", roomID, maxIdle.Minutes())
	}
}

func (s *Server) deleteRoomDocuments(roomID string) error {
	ctx := s.ctx
	var roster game.RosterRecord
	err := s.st.Get(ctx, game.RosterRef(roomID), &roster)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	batch := &store.Batch{}
	for _, uid := range roster.UIDs {
		batch.Delete(game.PlayerRef(roomID, uid))
		batch.Delete(game.HandRef(roomID, uid))
	}
	batch.Delete(game.StateRef(roomID))
	batch.Delete(game.RosterRef(roomID))
	batch.Delete(game.RoomRef(roomID))
	return s.st.ApplyBatch(ctx, batch)
}
