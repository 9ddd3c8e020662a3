package game

import (
	"fmt"

	"davinci-code/internal/store"
)

// Match phases. The phase field on the game state record is the single
// authority for which actions are legal; clients never compute it locally.
const (
	PhaseDraw        = "draw"
	PhaseMustGuess   = "must_guess"
	PhaseGuessChoice = "guess_choice"
	PhaseFinished    = "finished"
)

// Room statuses. Flipping status away from "playing" is the signal other
// clients use to leave the match view.
const (
	RoomStatusLobby   = "lobby"
	RoomStatusPlaying = "playing"
)

// Seats is the fixed player count per match.
const Seats = 3

// RoomRecord is the parent lobby document.
type RoomRecord struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	HostUID     string `json:"hostUid"`
	PlayerCount int    `json:"playerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// StateRecord is the shared match document, mutated only through Repository
// transactions.
type StateRecord struct {
	Phase     string   `json:"phase"`
	SeatToUID []string `json:"seatToUid"`
	TurnSeat  int      `json:"turnSeat"`
	TurnUID   string   `json:"turnUid"`
	Deck      []string `json:"deck"`
	DeckCount int      `json:"deckCount"`
	WinnerUID string   `json:"winnerUid,omitempty"`
	LastLog   string   `json:"lastLog,omitempty"`
}

// PublicCard is the publicly visible face of one hand slot: the color always
// shows, the card id only once revealed.
type PublicCard struct {
	Idx      int    `json:"idx"`
	Color    string `json:"color"`
	Revealed bool   `json:"revealed"`
	CardID   string `json:"cardId,omitempty"`
}

// PlayerRecord is one seat's public document.
type PlayerRecord struct {
	UID         string       `json:"uid"`
	DisplayName string       `json:"displayName"`
	Seat        int          `json:"seat"`
	Ready       bool         `json:"ready"`
	Eliminated  bool         `json:"eliminated"`
	PublicCards []PublicCard `json:"publicCards"`
}

// HandRecord holds a seat's actual cards. Private in intent; the data model
// does not access-control it.
type HandRecord struct {
	Seat     int      `json:"seat"`
	CardIDs  []string `json:"cardIds"`
	Revealed []bool   `json:"revealed"`
}

// RosterRecord lists joined identities in seat order; the lobby maintains it
// so match setup can read the seating without a collection query.
type RosterRecord struct {
	UIDs []string `json:"uids"`
}

func RoomRef(roomID string) store.Ref {
	return store.Ref("rooms/" + roomID)
}

func RosterRef(roomID string) store.Ref {
	return store.Ref(fmt.Sprintf("rooms/%s/roster", roomID))
}

func StateRef(roomID string) store.Ref {
	return store.Ref(fmt.Sprintf("rooms/%s/game/state", roomID))
}

func PlayerRef(roomID, uid string) store.Ref {
	return store.Ref(fmt.Sprintf("rooms/%s/players/%s", roomID, uid))
}

func HandRef(roomID, uid string) store.Ref {
	return store.Ref(fmt.Sprintf("rooms/%s/hands/%s", roomID, uid))
}
