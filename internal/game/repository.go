package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"davinci-code/internal/card"
	"davinci-code/internal/store"
)

// ErrDataIntegrity marks a record that violates the game's structural
// assumptions (missing seats, no living seat to hand the turn to). The
// transaction carrying it aborts without committing; the store is left in
// its prior consistent state.
var ErrDataIntegrity = errors.New("game record integrity fault")

// EventSink receives an audit entry for every committed mutating operation.
type EventSink func(roomID, actorUID, eventType string, payload map[string]any)

// Repository applies every player action as a single conditional transaction
// against the shared room documents. Operations are idempotent: every
// precondition is re-validated against the snapshot each (re)try sees, so a
// stale or duplicated invocation commits nothing and returns nil.
type Repository struct {
	st     *store.Client
	roomID string
	uid    string
	events EventSink
	rng    *rand.Rand
}

func NewRepository(st *store.Client, roomID, uid string) *Repository {
	return &Repository{
		st:     st,
		roomID: roomID,
		uid:    uid,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithEvents attaches an audit sink. Events fire after commit, never inside
// the transaction.
func (r *Repository) WithEvents(sink EventSink) *Repository {
	r.events = sink
	return r
}

// WithRand fixes the deck-shuffle source; tests use this for deterministic
// deals.
func (r *Repository) WithRand(rng *rand.Rand) *Repository {
	r.rng = rng
	return r
}

func (r *Repository) emit(eventType string, payload map[string]any) {
	if r.events != nil && eventType != "" {
		r.events(r.roomID, r.uid, eventType, payload)
	}
}

// Draw pops the top deck card into the actor's hand and moves the match to
// MustGuess. Degenerate paths: a fully revealed hand eliminates the actor on
// the spot, an empty deck skips straight to MustGuess.
func (r *Repository) Draw(ctx context.Context) error {
	eventType := ""
	payload := map[string]any{}
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished || state.TurnUID != r.uid || state.Phase != PhaseDraw {
			return nil
		}
		if len(state.SeatToUID) != Seats {
			return fmt.Errorf("%w: %d seats resolved", ErrDataIntegrity, len(state.SeatToUID))
		}

		var me PlayerRecord
		if err := tx.Get(PlayerRef(r.roomID, r.uid), &me); err != nil {
			return ignoreMissing(err)
		}
		if me.Eliminated {
			return nil
		}
		var hand HandRecord
		if err := tx.Get(HandRef(r.roomID, r.uid), &hand); err != nil {
			return ignoreMissing(err)
		}
		normalizeRevealed(&hand)

		// Should not happen in a consistent record: the hand is fully
		// revealed but the player is not yet marked eliminated. Repair
		// instead of drawing.
		if allRevealed(hand.Revealed) {
			elim, ok, err := r.readEliminations(tx, state.SeatToUID)
			if err != nil || !ok {
				return err
			}
			elim[r.uid] = true
			me.Eliminated = true
			if err := tx.Set(PlayerRef(r.roomID, r.uid), me); err != nil {
				return err
			}
			if winner := winnerIfOnlyOneAlive(state.SeatToUID, elim); winner != "" {
				finishMatch(&state, winner)
				eventType = "match_finished"
				payload["winner_uid"] = winner
			} else {
				state.LastLog = "You are eliminated. Draw is not allowed."
				eventType = "player_eliminated"
			}
			return tx.Set(StateRef(r.roomID), state)
		}

		if len(state.Deck) == 0 {
			state.Phase = PhaseMustGuess
			state.LastLog = "Deck is empty. Must guess without drawing."
			eventType = "deck_exhausted"
			return tx.Set(StateRef(r.roomID), state)
		}

		drawn := state.Deck[0]
		state.Deck = state.Deck[1:]
		color, _, err := card.Parse(drawn)
		if err != nil {
			return fmt.Errorf("%w: deck card: %v", ErrDataIntegrity, err)
		}

		hand.CardIDs = append(hand.CardIDs, drawn)
		hand.Revealed = append(hand.Revealed, false)
		me.PublicCards = append(me.PublicCards, PublicCard{
			Idx:   len(hand.CardIDs) - 1,
			Color: color,
		})
		oldToNew := card.SortHand(hand.CardIDs, hand.Revealed)
		remapPublicCards(me.PublicCards, oldToNew)

		state.DeckCount = len(state.Deck)
		state.Phase = PhaseMustGuess
		state.LastLog = fmt.Sprintf("Seat %d drew 1 card. Must guess.", me.Seat)
		eventType = "card_drawn"
		payload["seat"] = me.Seat
		payload["deck_count"] = state.DeckCount

		if err := tx.Set(HandRef(r.roomID, r.uid), hand); err != nil {
			return err
		}
		if err := tx.Set(PlayerRef(r.roomID, r.uid), me); err != nil {
			return err
		}
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, payload)
	return nil
}

// Guess resolves an accusation against targetSeat's card at cardIndex. A
// correct guess reveals the target card and keeps the turn (GuessChoice); a
// wrong one force-reveals the actor's own last card and passes the turn to
// the next living seat. Either way the winner check runs on the locally
// updated elimination facts and short-circuits the phase change.
func (r *Repository) Guess(ctx context.Context, targetSeat, cardIndex, rank int, isBlack bool) error {
	eventType := ""
	payload := map[string]any{}
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished || state.TurnUID != r.uid || state.Phase != PhaseMustGuess {
			return nil
		}
		if len(state.SeatToUID) != Seats {
			return fmt.Errorf("%w: %d seats resolved", ErrDataIntegrity, len(state.SeatToUID))
		}
		if targetSeat < 0 || targetSeat >= Seats {
			return nil
		}
		targetUID := state.SeatToUID[targetSeat]
		if targetUID == "" || targetUID == r.uid {
			return nil
		}
		thirdUID := ""
		for _, uid := range state.SeatToUID {
			if uid != r.uid && uid != targetUID {
				thirdUID = uid
			}
		}

		var me, target PlayerRecord
		var myHand, targetHand HandRecord
		if err := tx.Get(PlayerRef(r.roomID, r.uid), &me); err != nil {
			return ignoreMissing(err)
		}
		if err := tx.Get(HandRef(r.roomID, r.uid), &myHand); err != nil {
			return ignoreMissing(err)
		}
		if err := tx.Get(PlayerRef(r.roomID, targetUID), &target); err != nil {
			return ignoreMissing(err)
		}
		if err := tx.Get(HandRef(r.roomID, targetUID), &targetHand); err != nil {
			return ignoreMissing(err)
		}
		// A missing third player counts as eliminated, so the match can
		// still finish for the two seats that remain.
		thirdElim := true
		if thirdUID != "" {
			var third PlayerRecord
			err := tx.Get(PlayerRef(r.roomID, thirdUID), &third)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err == nil {
				thirdElim = third.Eliminated
			}
		}

		if me.Eliminated || target.Eliminated {
			return nil
		}
		normalizeRevealed(&myHand)
		normalizeRevealed(&targetHand)

		if cardIndex < 0 || cardIndex >= len(targetHand.CardIDs) {
			return nil
		}
		if targetHand.Revealed[cardIndex] {
			return nil
		}

		targetCardID := targetHand.CardIDs[cardIndex]
		realColor, realRank, err := card.Parse(targetCardID)
		if err != nil {
			return fmt.Errorf("%w: target card: %v", ErrDataIntegrity, err)
		}
		guessedColor := card.ColorWhite
		if isBlack {
			guessedColor = card.ColorBlack
		}
		correct := realColor == guessedColor && realRank == rank

		elim := map[string]bool{
			r.uid:     me.Eliminated,
			targetUID: target.Eliminated,
		}
		if thirdUID != "" {
			elim[thirdUID] = thirdElim
		}

		if correct {
			targetHand.Revealed[cardIndex] = true
			revealPublicCard(target.PublicCards, cardIndex, targetCardID)
			if allRevealed(targetHand.Revealed) {
				target.Eliminated = true
				elim[targetUID] = true
			}
			if err := tx.Set(HandRef(r.roomID, targetUID), targetHand); err != nil {
				return err
			}
			if err := tx.Set(PlayerRef(r.roomID, targetUID), target); err != nil {
				return err
			}
			eventType = "guess_correct"
		} else {
			// Penalty rule: the guesser's own last card goes face up.
			penaltyIdx := len(myHand.CardIDs) - 1
			if penaltyIdx < 0 {
				return nil
			}
			if !myHand.Revealed[penaltyIdx] {
				myHand.Revealed[penaltyIdx] = true
				revealPublicCard(me.PublicCards, penaltyIdx, myHand.CardIDs[penaltyIdx])
				if allRevealed(myHand.Revealed) {
					me.Eliminated = true
					elim[r.uid] = true
				}
				if err := tx.Set(HandRef(r.roomID, r.uid), myHand); err != nil {
					return err
				}
				if err := tx.Set(PlayerRef(r.roomID, r.uid), me); err != nil {
					return err
				}
			}
			eventType = "guess_wrong"
		}
		payload["target_seat"] = targetSeat
		payload["card_index"] = cardIndex

		if winner := winnerIfOnlyOneAlive(state.SeatToUID, elim); winner != "" {
			finishMatch(&state, winner)
			eventType = "match_finished"
			payload["winner_uid"] = winner
			return tx.Set(StateRef(r.roomID), state)
		}

		if correct {
			state.Phase = PhaseGuessChoice
			state.LastLog = fmt.Sprintf("Correct! Revealed seat %d idx=%d", targetSeat, cardIndex)
		} else {
			nextSeat := nextAliveSeat(state.TurnSeat, state.SeatToUID, elim)
			if nextSeat < 0 {
				return fmt.Errorf("%w: no alive seat after %d", ErrDataIntegrity, state.TurnSeat)
			}
			state.Phase = PhaseDraw
			state.TurnSeat = nextSeat
			state.TurnUID = state.SeatToUID[nextSeat]
			state.LastLog = fmt.Sprintf("Wrong! Penalty reveal. Next turn -> seat %d", nextSeat)
			payload["next_seat"] = nextSeat
		}
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, payload)
	return nil
}

// ContinueGuess keeps the turn alive after a correct guess and re-enters
// MustGuess. If the actor has no surviving opponents the match finishes
// instead, with the actor as winner.
func (r *Repository) ContinueGuess(ctx context.Context) error {
	eventType := ""
	payload := map[string]any{}
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished || state.TurnUID != r.uid || state.Phase != PhaseGuessChoice {
			return nil
		}
		if len(state.SeatToUID) != Seats {
			return fmt.Errorf("%w: %d seats resolved", ErrDataIntegrity, len(state.SeatToUID))
		}

		// Missing player documents count as eliminated (fail-safe).
		elim := make(map[string]bool, Seats)
		for _, uid := range state.SeatToUID {
			if uid == "" {
				continue
			}
			var p PlayerRecord
			err := tx.Get(PlayerRef(r.roomID, uid), &p)
			if errors.Is(err, store.ErrNotFound) {
				elim[uid] = true
				continue
			}
			if err != nil {
				return err
			}
			elim[uid] = p.Eliminated
		}

		if winner := winnerIfOnlyOneAlive(state.SeatToUID, elim); winner != "" {
			finishMatch(&state, winner)
			eventType = "match_finished"
			payload["winner_uid"] = winner
			return tx.Set(StateRef(r.roomID), state)
		}

		hasAliveTarget := false
		for _, uid := range state.SeatToUID {
			if uid != "" && uid != r.uid && !elim[uid] {
				hasAliveTarget = true
			}
		}
		if !hasAliveTarget {
			// Bookkeeping gap: nobody left to guess against means the
			// actor already won.
			finishMatch(&state, r.uid)
			eventType = "match_finished"
			payload["winner_uid"] = r.uid
			return tx.Set(StateRef(r.roomID), state)
		}

		state.Phase = PhaseMustGuess
		state.LastLog = "Continue guessing."
		eventType = "guess_continued"
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, payload)
	return nil
}

// EndTurn hands the turn to the next living seat and returns to Draw.
func (r *Repository) EndTurn(ctx context.Context) error {
	eventType := ""
	payload := map[string]any{}
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished || state.TurnUID != r.uid || state.Phase != PhaseGuessChoice {
			return nil
		}
		if len(state.SeatToUID) != Seats {
			return fmt.Errorf("%w: %d seats resolved", ErrDataIntegrity, len(state.SeatToUID))
		}

		elim, ok, err := r.readEliminations(tx, state.SeatToUID)
		if err != nil || !ok {
			return err
		}

		if winner := winnerIfOnlyOneAlive(state.SeatToUID, elim); winner != "" {
			finishMatch(&state, winner)
			eventType = "match_finished"
			payload["winner_uid"] = winner
			return tx.Set(StateRef(r.roomID), state)
		}

		nextSeat := nextAliveSeat(state.TurnSeat, state.SeatToUID, elim)
		if nextSeat < 0 {
			return fmt.Errorf("%w: no alive seat after %d", ErrDataIntegrity, state.TurnSeat)
		}
		state.Phase = PhaseDraw
		state.TurnSeat = nextSeat
		state.TurnUID = state.SeatToUID[nextSeat]
		state.LastLog = fmt.Sprintf("Turn ended. Next -> seat %d", nextSeat)
		eventType = "turn_ended"
		payload["next_seat"] = nextSeat
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, payload)
	return nil
}

// ForceMustGuessWhenDeckEmpty is the self-healing transition for a deck that
// emptied on someone else's draw: the turn-holder requests MustGuess with no
// other side effects. Safe to call repeatedly; a non-empty deck or an
// already-moved phase makes it a no-op.
func (r *Repository) ForceMustGuessWhenDeckEmpty(ctx context.Context) error {
	eventType := ""
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished || state.TurnUID != r.uid {
			return nil
		}
		if state.DeckCount > 0 || state.Phase != PhaseDraw {
			return nil
		}
		state.Phase = PhaseMustGuess
		state.LastLog = "Deck is empty. Must guess without drawing."
		eventType = "deck_exhausted"
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, nil)
	return nil
}

// HostFixTurnIfCurrentTurnEliminated is the host's reconciliation for the
// transient state where the recorded turn-holder is eliminated: finish the
// match if one seat survives, otherwise advance to the next living seat and
// reset to Draw. No-op when the turn-holder is actually alive at commit
// time.
func (r *Repository) HostFixTurnIfCurrentTurnEliminated(ctx context.Context) error {
	eventType := ""
	payload := map[string]any{}
	err := r.st.RunTransaction(ctx, func(tx *store.Tx) error {
		eventType = ""
		state, ok, err := r.getState(tx)
		if err != nil || !ok {
			return err
		}
		if state.Phase == PhaseFinished {
			return nil
		}
		if len(state.SeatToUID) != Seats {
			return fmt.Errorf("%w: %d seats resolved", ErrDataIntegrity, len(state.SeatToUID))
		}

		var turnPlayer PlayerRecord
		if err := tx.Get(PlayerRef(r.roomID, state.TurnUID), &turnPlayer); err != nil {
			return ignoreMissing(err)
		}
		if !turnPlayer.Eliminated {
			return nil
		}

		elim, ok, err := r.readEliminations(tx, state.SeatToUID)
		if err != nil || !ok {
			return err
		}

		if winner := winnerIfOnlyOneAlive(state.SeatToUID, elim); winner != "" {
			finishMatch(&state, winner)
			eventType = "match_finished"
			payload["winner_uid"] = winner
			return tx.Set(StateRef(r.roomID), state)
		}

		nextSeat := nextAliveSeat(state.TurnSeat, state.SeatToUID, elim)
		if nextSeat < 0 {
			return fmt.Errorf("%w: no alive seat after %d", ErrDataIntegrity, state.TurnSeat)
		}
		state.Phase = PhaseDraw
		state.TurnSeat = nextSeat
		state.TurnUID = state.SeatToUID[nextSeat]
		state.LastLog = fmt.Sprintf("Turn player was eliminated. Auto advance -> seat %d", nextSeat)
		eventType = "turn_reconciled"
		payload["next_seat"] = nextSeat
		return tx.Set(StateRef(r.roomID), state)
	})
	if err != nil {
		return err
	}
	r.emit(eventType, payload)
	return nil
}

// HostStartMatch deals the first match: fresh shuffled deck, cardsPerPlayer
// to each seat, seat 0 to act, and the room status flipped to playing as the
// last write in the batch. Host only.
func (r *Repository) HostStartMatch(ctx context.Context, cardsPerPlayer int) error {
	if err := r.dealMatch(ctx, cardsPerPlayer, RoomStatusPlaying, "Match started."); err != nil {
		return err
	}
	r.emit("match_started", map[string]any{"cards_per_player": cardsPerPlayer})
	return nil
}

// HostResetRoomForNextMatch rebuilds the room for another match after
// observing Finished: re-deal, clear eliminations and reveals, reset the
// state record, and, as the last write in the same atomic batch, flip the
// room status back to lobby, which is the signal other clients use to leave
// the match view. Not naturally idempotent: the caller guards it with a
// one-shot flag per match.
func (r *Repository) HostResetRoomForNextMatch(ctx context.Context, cardsPerPlayer int) error {
	if err := r.dealMatch(ctx, cardsPerPlayer, RoomStatusLobby, "Reset complete. Back to lobby."); err != nil {
		return err
	}
	r.emit("room_reset", map[string]any{"cards_per_player": cardsPerPlayer})
	return nil
}

// dealMatch builds the atomic multi-document deal batch shared by match
// start and end-of-match reset. It is a batch write, not a conditional
// transaction: the caller is responsible for invoking it at most once.
func (r *Repository) dealMatch(ctx context.Context, cardsPerPlayer int, roomStatus, lastLog string) error {
	if cardsPerPlayer <= 0 || cardsPerPlayer*Seats > 2*(card.MaxRank+1) {
		return fmt.Errorf("invalid cards per player: %d", cardsPerPlayer)
	}

	var room RoomRecord
	if err := r.st.Get(ctx, RoomRef(r.roomID), &room); err != nil {
		return err
	}
	if room.HostUID != r.uid {
		return fmt.Errorf("uid %s is not the host of room %s", r.uid, r.roomID)
	}

	players, err := r.loadSeatedPlayers(ctx)
	if err != nil {
		return err
	}
	if len(players) != Seats {
		return fmt.Errorf("%w: %d players seated", ErrDataIntegrity, len(players))
	}

	deck := card.Shuffle(card.NewDeck(), r.rng)
	seatToUID := make([]string, Seats)

	batch := &store.Batch{}
	for i, p := range players {
		seatToUID[i] = p.UID

		dealt := deck[:cardsPerPlayer]
		deck = deck[cardsPerPlayer:]

		hand := HandRecord{
			Seat:     p.Seat,
			CardIDs:  append([]string(nil), dealt...),
			Revealed: make([]bool, cardsPerPlayer),
		}
		card.SortHand(hand.CardIDs, hand.Revealed)

		publicCards := make([]PublicCard, 0, cardsPerPlayer)
		for idx, id := range hand.CardIDs {
			color, _, err := card.Parse(id)
			if err != nil {
				return fmt.Errorf("%w: dealt card: %v", ErrDataIntegrity, err)
			}
			publicCards = append(publicCards, PublicCard{Idx: idx, Color: color})
		}

		p.Ready = false
		p.Eliminated = false
		p.PublicCards = publicCards

		batch.Set(HandRef(r.roomID, p.UID), hand)
		batch.Set(PlayerRef(r.roomID, p.UID), p)
	}

	batch.Set(StateRef(r.roomID), StateRecord{
		Phase:     PhaseDraw,
		SeatToUID: seatToUID,
		TurnSeat:  0,
		TurnUID:   seatToUID[0],
		Deck:      deck,
		DeckCount: len(deck),
		LastLog:   lastLog,
	})

	room.Status = roomStatus
	batch.Set(RoomRef(r.roomID), room)

	return r.st.ApplyBatch(ctx, batch)
}

// loadSeatedPlayers reads the room's player documents in seat order.
func (r *Repository) loadSeatedPlayers(ctx context.Context) ([]PlayerRecord, error) {
	var state StateRecord
	err := r.st.Get(ctx, StateRef(r.roomID), &state)
	uids := state.SeatToUID
	if errors.Is(err, store.ErrNotFound) || len(uids) == 0 {
		// First match: no state record yet, fall back to the lobby roster.
		var roster RosterRecord
		if err := r.st.Get(ctx, RosterRef(r.roomID), &roster); err != nil {
			return nil, err
		}
		uids = roster.UIDs
	} else if err != nil {
		return nil, err
	}

	players := make([]PlayerRecord, 0, len(uids))
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		var p PlayerRecord
		if err := r.st.Get(ctx, PlayerRef(r.roomID, uid), &p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Seat < players[j].Seat
	})
	return players, nil
}

func (r *Repository) getState(tx *store.Tx) (StateRecord, bool, error) {
	var state StateRecord
	err := tx.Get(StateRef(r.roomID), &state)
	if errors.Is(err, store.ErrNotFound) {
		return state, false, nil
	}
	if err != nil {
		return state, false, err
	}
	return state, true, nil
}

// readEliminations reads all three player documents. A missing document
// makes the whole operation a silent no-op (ok=false).
func (r *Repository) readEliminations(tx *store.Tx, seatToUID []string) (map[string]bool, bool, error) {
	elim := make(map[string]bool, len(seatToUID))
	for _, uid := range seatToUID {
		var p PlayerRecord
		err := tx.Get(PlayerRef(r.roomID, uid), &p)
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		elim[uid] = p.Eliminated
	}
	return elim, true, nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func normalizeRevealed(hand *HandRecord) {
	if len(hand.Revealed) != len(hand.CardIDs) {
		hand.Revealed = make([]bool, len(hand.CardIDs))
	}
}

func finishMatch(state *StateRecord, winnerUID string) {
	state.Phase = PhaseFinished
	state.WinnerUID = winnerUID
	state.LastLog = fmt.Sprintf("Game finished. Winner=%s", winnerUID)
}

// remapPublicCards pushes the hand-sort permutation through the public
// entries so revealed-state stays attached to the correct card, then
// restores idx order.
func remapPublicCards(pub []PublicCard, oldToNew map[int]int) {
	for i := range pub {
		if newIdx, ok := oldToNew[pub[i].Idx]; ok {
			pub[i].Idx = newIdx
		}
	}
	sort.Slice(pub, func(i, j int) bool { return pub[i].Idx < pub[j].Idx })
}

func revealPublicCard(pub []PublicCard, idx int, cardID string) {
	for i := range pub {
		if pub[i].Idx == idx {
			pub[i].Revealed = true
			pub[i].CardID = cardID
			return
		}
	}
}
