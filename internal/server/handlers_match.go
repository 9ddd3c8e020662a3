package server

import (
	"context"
	"errors"
	"net/http"

	"davinci-code/internal/game"
	"davinci-code/internal/store"
)

// requireSeated resolves the acting player's document; every match intent
// starts here so an unknown identity gets a 404 instead of a silent no-op.
func (s *Server) requireSeated(ctx context.Context, w http.ResponseWriter, roomID, uid string) bool {
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return false
	}
	var p game.PlayerRecord
	err := s.st.Get(ctx, game.PlayerRef(roomID, uid), &p)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "player not in room")
		return false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read player")
		return false
	}
	return true
}

func (s *Server) finishIntent(w http.ResponseWriter, r *http.Request, roomID string, err error) {
	if err != nil {
		if errors.Is(err, game.ErrDataIntegrity) {
			writeError(w, http.StatusConflict, "room record is inconsistent")
			return
		}
		writeError(w, http.StatusInternalServerError, "action failed")
		return
	}
	s.touch(roomID)
	snap, snapErr := s.snapshot(r.Context(), roomID)
	if snapErr != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request, roomID string) {
	var req uidRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.requireSeated(r.Context(), w, roomID, req.UID) {
		return
	}
	s.finishIntent(w, r, roomID, s.repo(roomID, req.UID).Draw(r.Context()))
}

func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request, roomID string) {
	var req guessRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.requireSeated(r.Context(), w, roomID, req.UID) {
		return
	}
	err := s.repo(roomID, req.UID).Guess(r.Context(), req.TargetSeat, req.CardIndex, req.Rank, req.IsBlack)
	s.finishIntent(w, r, roomID, err)
}

func (s *Server) handleContinueGuess(w http.ResponseWriter, r *http.Request, roomID string) {
	var req uidRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.requireSeated(r.Context(), w, roomID, req.UID) {
		return
	}
	s.finishIntent(w, r, roomID, s.repo(roomID, req.UID).ContinueGuess(r.Context()))
}

func (s *Server) handleEndTurn(w http.ResponseWriter, r *http.Request, roomID string) {
	var req uidRequest
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.requireSeated(r.Context(), w, roomID, req.UID) {
		return
	}
	s.finishIntent(w, r, roomID, s.repo(roomID, req.UID).EndTurn(r.Context()))
}

// handleGetHand returns the caller's own cards. The uid doubles as the
// access token here: it is unguessable and never appears in any public
// payload.
func (s *Server) handleGetHand(w http.ResponseWriter, r *http.Request, roomID string) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	var hand game.HandRecord
	err := s.st.Get(r.Context(), game.HandRef(roomID, uid), &hand)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read hand")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seat":     hand.Seat,
		"card_ids": hand.CardIDs,
		"revealed": hand.Revealed,
	})
}
