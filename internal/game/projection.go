package game

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"

	"davinci-code/internal/store"
)

// Projection subscribes to a room's documents and maintains the local view
// the UI renders from. All mutation of the view happens on the Run
// goroutine: the store delivers change events into the subscription channel
// and Run drains it, so notification delivery never touches shared state
// directly.
//
// The projection also carries the client-side self-healing duties: the
// deck-empty force on the actor's own turn, and, when the local identity is
// the room host, turn reconciliation plus the one-shot end-of-match reset.
type Projection struct {
	st             *store.Client
	repo           *Repository
	roomID         string
	uid            string
	cardsPerPlayer int

	mu   sync.Mutex
	view View

	// one-shot guard for the end-of-match reset; re-armed when the phase
	// leaves Finished.
	resetDone bool

	raw struct {
		room    *RoomRecord
		roster  *RosterRecord
		state   *StateRecord
		players map[string]PlayerRecord
		myHand  *HandRecord
	}
}

func NewProjection(st *store.Client, repo *Repository, roomID, uid string, cardsPerPlayer int) *Projection {
	p := &Projection{
		st:             st,
		repo:           repo,
		roomID:         roomID,
		uid:            uid,
		cardsPerPlayer: cardsPerPlayer,
	}
	p.raw.players = make(map[string]PlayerRecord)
	p.view = View{RoomID: roomID, MyUID: uid}
	return p
}

// Run drives the projection until ctx is cancelled. It subscribes first,
// then primes from plain reads, so no committed change between the two can
// be missed (it would be re-delivered or already read).
func (p *Projection) Run(ctx context.Context) error {
	sub := p.st.Subscribe(RoomRef(p.roomID))
	defer sub.Close()

	p.prime(ctx)
	p.rebuild()
	p.react(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C():
			if !ok {
				return errors.New("subscription dropped")
			}
			p.stage(evt)
			// Drain whatever else is queued before paying for a rebuild.
			for {
				select {
				case evt, ok := <-sub.C():
					if !ok {
						return errors.New("subscription dropped")
					}
					p.stage(evt)
					continue
				default:
				}
				break
			}
			p.rebuild()
			p.react(ctx)
		}
	}
}

func (p *Projection) prime(ctx context.Context) {
	var room RoomRecord
	if err := p.st.Get(ctx, RoomRef(p.roomID), &room); err == nil {
		p.raw.room = &room
	}
	var roster RosterRecord
	if err := p.st.Get(ctx, RosterRef(p.roomID), &roster); err == nil {
		p.raw.roster = &roster
	}
	var state StateRecord
	if err := p.st.Get(ctx, StateRef(p.roomID), &state); err == nil {
		p.raw.state = &state
	}
	if p.raw.roster != nil {
		for _, uid := range p.raw.roster.UIDs {
			var player PlayerRecord
			if err := p.st.Get(ctx, PlayerRef(p.roomID, uid), &player); err == nil {
				p.raw.players[uid] = player
			}
		}
	}
	var hand HandRecord
	if err := p.st.Get(ctx, HandRef(p.roomID, p.uid), &hand); err == nil {
		p.raw.myHand = &hand
	}
}

// stage decodes one change event into the raw document set. Runs only on
// the Run goroutine.
func (p *Projection) stage(evt store.Event) {
	rel := strings.TrimPrefix(string(evt.Ref), string(RoomRef(p.roomID)))
	rel = strings.TrimPrefix(rel, "/")

	decode := func(dest any) bool {
		if evt.Deleted {
			return false
		}
		if err := json.Unmarshal(evt.Data, dest); err != nil {
			log.Printf("projection decode failed room_id=%s ref=%s error=%v", p.roomID, evt.Ref, err)
			return false
		}
		return true
	}

	switch {
	case rel == "":
		var room RoomRecord
		if decode(&room) {
			p.raw.room = &room
		}
	case rel == "roster":
		var roster RosterRecord
		if decode(&roster) {
			p.raw.roster = &roster
		}
	case rel == "game/state":
		var state StateRecord
		if decode(&state) {
			p.raw.state = &state
		}
	case strings.HasPrefix(rel, "players/"):
		uid := strings.TrimPrefix(rel, "players/")
		if evt.Deleted {
			delete(p.raw.players, uid)
			return
		}
		var player PlayerRecord
		if decode(&player) {
			p.raw.players[uid] = player
		}
	case strings.HasPrefix(rel, "hands/"):
		if strings.TrimPrefix(rel, "hands/") != p.uid {
			return
		}
		var hand HandRecord
		if decode(&hand) {
			p.raw.myHand = &hand
		}
	}
}

// rebuild replaces the published view with one derived from the staged
// documents.
func (p *Projection) rebuild() {
	view := View{RoomID: p.roomID, MyUID: p.uid}
	if p.raw.room != nil {
		view.RoomStatus = p.raw.room.Status
		view.HostUID = p.raw.room.HostUID
	}
	if p.raw.state != nil {
		view.Phase = p.raw.state.Phase
		view.SeatToUID = p.raw.state.SeatToUID
		view.TurnSeat = p.raw.state.TurnSeat
		view.TurnUID = p.raw.state.TurnUID
		view.DeckCount = p.raw.state.DeckCount
		view.WinnerUID = p.raw.state.WinnerUID
		view.LastLog = p.raw.state.LastLog
	}
	view.Players = make(map[string]PlayerRecord, len(p.raw.players))
	for uid, player := range p.raw.players {
		view.Players[uid] = player
	}
	if p.raw.myHand != nil {
		view.MyHand = *p.raw.myHand
	}

	p.mu.Lock()
	p.view = view
	p.mu.Unlock()
}

// react runs the entry hooks for the current view: phase-forcing on the
// actor's own turn and the host duties. Failures are logged, never fatal;
// the record is authoritative and the next notification reconciles.
func (p *Projection) react(ctx context.Context) {
	view := p.View()
	if view.Phase == "" {
		return
	}

	if _, action := Evaluate(&view); action == ActionForceMustGuess {
		if err := p.repo.ForceMustGuessWhenDeckEmpty(ctx); err != nil {
			log.Printf("force must-guess failed room_id=%s error=%v", p.roomID, err)
		}
	}

	if PhaseStateOf(view.Phase) != StateFinished {
		p.resetDone = false
	}
	if !view.IsHost() {
		return
	}

	if PhaseStateOf(view.Phase) == StateFinished {
		if !p.resetDone {
			p.resetDone = true
			if err := p.repo.HostResetRoomForNextMatch(ctx, p.cardsPerPlayer); err != nil {
				log.Printf("host reset failed room_id=%s error=%v", p.roomID, err)
			}
		}
		return
	}

	if turnPlayer, ok := view.Players[view.TurnUID]; ok && turnPlayer.Eliminated {
		if err := p.repo.HostFixTurnIfCurrentTurnEliminated(ctx); err != nil {
			log.Printf("host turn fix failed room_id=%s error=%v", p.roomID, err)
		}
	}
}

// View returns a copy of the current view, safe to read from any goroutine.
func (p *Projection) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Affordances evaluates the state machine against the current view.
func (p *Projection) Affordances() Affordances {
	view := p.View()
	a, _ := Evaluate(&view)
	return a
}

// Intent methods route user input into repository operations. The returned
// error is the explicit handle a caller may await or ignore; either way a
// failure is logged here so nothing is silently swallowed.

func (p *Projection) Draw(ctx context.Context) error {
	return p.logged("draw", p.repo.Draw(ctx))
}

func (p *Projection) SubmitGuess(ctx context.Context, targetSeat, cardIndex, rank int, isBlack bool) error {
	return p.logged("guess", p.repo.Guess(ctx, targetSeat, cardIndex, rank, isBlack))
}

func (p *Projection) ContinueGuess(ctx context.Context) error {
	return p.logged("continue_guess", p.repo.ContinueGuess(ctx))
}

func (p *Projection) EndTurn(ctx context.Context) error {
	return p.logged("end_turn", p.repo.EndTurn(ctx))
}

func (p *Projection) logged(intent string, err error) error {
	if err != nil {
		log.Printf("intent failed room_id=%s uid=%s intent=%s error=%v", p.roomID, p.uid, intent, err)
	}
	return err
}
