package server

import (
	"context"
	"errors"
	"sort"

	"davinci-code/internal/game"
	"davinci-code/internal/store"
)

// snapshot assembles the public view of a room: lobby data, match state with
// the deck reduced to a count, and every seat's public cards. Hidden card
// identities never enter the payload.
func (s *Server) snapshot(ctx context.Context, roomID string) (map[string]any, error) {
	var room game.RoomRecord
	if err := s.st.Get(ctx, game.RoomRef(roomID), &room); err != nil {
		return nil, err
	}

	snap := map[string]any{
		"room_id":      roomID,
		"name":         room.Name,
		"status":       room.Status,
		"host_uid":     room.HostUID,
		"player_count": room.PlayerCount,
		"max_players":  room.MaxPlayers,
	}

	var roster game.RosterRecord
	if err := s.st.Get(ctx, game.RosterRef(roomID), &roster); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	players := make([]map[string]any, 0, len(roster.UIDs))
	for _, uid := range roster.UIDs {
		var p game.PlayerRecord
		if err := s.st.Get(ctx, game.PlayerRef(roomID, uid), &p); err != nil {
			continue
		}
		cards := make([]map[string]any, 0, len(p.PublicCards))
		for _, pc := range p.PublicCards {
			card := map[string]any{
				"idx":      pc.Idx,
				"color":    pc.Color,
				"revealed": pc.Revealed,
			}
			if pc.Revealed {
				card["card_id"] = pc.CardID
			}
			cards = append(cards, card)
		}
		players = append(players, map[string]any{
			"uid":          p.UID,
			"display_name": p.DisplayName,
			"seat":         p.Seat,
			"ready":        p.Ready,
			"eliminated":   p.Eliminated,
			"public_cards": cards,
		})
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i]["seat"].(int) < players[j]["seat"].(int)
	})
	snap["players"] = players

	var state game.StateRecord
	err := s.st.Get(ctx, game.StateRef(roomID), &state)
	if errors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	snap["phase"] = state.Phase
	snap["seat_to_uid"] = state.SeatToUID
	snap["turn_seat"] = state.TurnSeat
	snap["turn_uid"] = state.TurnUID
	snap["deck_count"] = state.DeckCount
	snap["winner_uid"] = state.WinnerUID
	snap["last_log"] = state.LastLog
	return snap, nil
}
