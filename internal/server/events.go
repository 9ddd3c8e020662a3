package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"davinci-code/internal/db"

	"gorm.io/datatypes"
)

const eventPageSize = 50

// persistEvent is the audit sink handed to every repository. Auditing is
// best-effort and optional: without a database the event is dropped.
func (s *Server) persistEvent(roomID, actorUID, eventType string, payload map[string]any) {
	if s.db == nil || eventType == "" {
		return
	}
	data := datatypes.JSON([]byte("{}"))
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("event payload marshal failed room_id=%s type=%s error=%v", roomID, eventType, err)
			return
		}
		data = datatypes.JSON(raw)
	}
	record := db.Event{
		RoomID:    roomID,
		ActorUID:  actorUID,
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		log.Printf("event persist failed room_id=%s type=%s error=%v", roomID, eventType, err)
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, roomID string) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	var records []db.Event
	err := s.db.
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(eventPageSize).
		Find(&records).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	events := make([]map[string]any, 0, len(records))
	for _, record := range records {
		events = append(events, map[string]any{
			"type":       record.Type,
			"actor_uid":  record.ActorUID,
			"payload":    record.Payload,
			"created_at": record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
