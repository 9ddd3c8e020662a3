package game

import "fmt"

// PhaseState is the closed set of match phases as seen by a client. The
// four concrete values are exhaustive; Evaluate switches over them and a
// record carrying anything else maps to StateDraw, matching the record's
// default phase.
type PhaseState int

const (
	StateDraw PhaseState = iota
	StateMustGuess
	StateGuessChoice
	StateFinished
)

func (p PhaseState) String() string {
	switch p {
	case StateDraw:
		return PhaseDraw
	case StateMustGuess:
		return PhaseMustGuess
	case StateGuessChoice:
		return PhaseGuessChoice
	case StateFinished:
		return PhaseFinished
	}
	return fmt.Sprintf("PhaseState(%d)", int(p))
}

// PhaseStateOf maps the authoritative record phase onto the tagged union.
func PhaseStateOf(phase string) PhaseState {
	switch phase {
	case PhaseMustGuess:
		return StateMustGuess
	case PhaseGuessChoice:
		return StateGuessChoice
	case PhaseFinished:
		return StateFinished
	default:
		return StateDraw
	}
}

// Affordances are the UI enablement signals for the local actor. They carry
// no authority: the repository re-validates every action transactionally.
type Affordances struct {
	CanDraw         bool
	CanGuess        bool
	ShowGuessChoice bool
	WinnerUID       string
}

// EntryAction is a self-healing transaction the state machine requests on
// phase entry.
type EntryAction int

const (
	ActionNone EntryAction = iota
	// ActionForceMustGuess fires when Draw is entered on the local actor's
	// turn with an empty deck; the deck may have emptied on someone
	// else's last draw.
	ActionForceMustGuess
)

// View is the locally rebuilt projection of the room documents, internally
// consistent as-of some committed version (possibly stale).
type View struct {
	RoomID     string
	MyUID      string
	RoomStatus string
	HostUID    string

	Phase     string
	SeatToUID []string
	TurnSeat  int
	TurnUID   string
	DeckCount int
	WinnerUID string
	LastLog   string

	Players map[string]PlayerRecord
	MyHand  HandRecord
}

func (v *View) IsMyTurn() bool {
	return v.TurnUID != "" && v.TurnUID == v.MyUID
}

func (v *View) IsHost() bool {
	return v.HostUID != "" && v.HostUID == v.MyUID
}

func (v *View) Me() (PlayerRecord, bool) {
	p, ok := v.Players[v.MyUID]
	return p, ok
}

func (v *View) PlayerBySeat(seat int) (PlayerRecord, bool) {
	if seat < 0 || seat >= len(v.SeatToUID) {
		return PlayerRecord{}, false
	}
	p, ok := v.Players[v.SeatToUID[seat]]
	return p, ok
}

// Evaluate renders the affordances and entry action for the view's phase.
// Pure: no game-rule validation happens here, only what the authoritative
// phase already decided.
func Evaluate(v *View) (Affordances, EntryAction) {
	me, _ := v.Me()
	myTurn := v.IsMyTurn() && !me.Eliminated

	switch PhaseStateOf(v.Phase) {
	case StateDraw:
		a := Affordances{
			CanDraw: myTurn && v.DeckCount > 0,
			// Guessing without drawing is always legal on your turn.
			CanGuess: myTurn,
		}
		if myTurn && v.DeckCount == 0 {
			return a, ActionForceMustGuess
		}
		return a, ActionNone
	case StateMustGuess:
		return Affordances{CanGuess: myTurn}, ActionNone
	case StateGuessChoice:
		return Affordances{ShowGuessChoice: myTurn}, ActionNone
	case StateFinished:
		return Affordances{WinnerUID: v.WinnerUID}, ActionNone
	}
	return Affordances{}, ActionNone
}
