package game

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"davinci-code/internal/store"
)

const (
	uidA = "uid-ada"
	uidB = "uid-ben"
	uidC = "uid-cyn"
)

type fixture struct {
	st    *store.Client
	seats []string
}

// newFixture seeds a playing room with the given hands (nil entries get an
// empty hand) and remaining deck.
func newFixture(t *testing.T, hands [Seats][]string, deck []string, phase string, turnSeat int) *fixture {
	t.Helper()
	st := store.NewMemory()
	seats := []string{uidA, uidB, uidC}
	names := []string{"Ada", "Ben", "Cyn"}

	batch := &store.Batch{}
	batch.Set(RoomRef("r1"), RoomRecord{
		Name:        "table one",
		Status:      RoomStatusPlaying,
		HostUID:     uidA,
		PlayerCount: Seats,
		MaxPlayers:  Seats,
	})
	batch.Set(RosterRef("r1"), RosterRecord{UIDs: seats})
	for seat, uid := range seats {
		cardIDs := append([]string(nil), hands[seat]...)
		hand := HandRecord{Seat: seat, CardIDs: cardIDs, Revealed: make([]bool, len(cardIDs))}
		pub := make([]PublicCard, 0, len(cardIDs))
		for idx, id := range cardIDs {
			color := "black"
			if id[0] == 'W' {
				color = "white"
			}
			pub = append(pub, PublicCard{Idx: idx, Color: color})
		}
		batch.Set(HandRef("r1", uid), hand)
		batch.Set(PlayerRef("r1", uid), PlayerRecord{
			UID:         uid,
			DisplayName: names[seat],
			Seat:        seat,
			PublicCards: pub,
		})
	}
	batch.Set(StateRef("r1"), StateRecord{
		Phase:     phase,
		SeatToUID: seats,
		TurnSeat:  turnSeat,
		TurnUID:   seats[turnSeat],
		Deck:      deck,
		DeckCount: len(deck),
	})
	if err := st.ApplyBatch(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{st: st, seats: seats}
}

func (f *fixture) repo(uid string) *Repository {
	return NewRepository(f.st, "r1", uid)
}

func (f *fixture) state(t *testing.T) StateRecord {
	t.Helper()
	var state StateRecord
	if err := f.st.Get(context.Background(), StateRef("r1"), &state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	return state
}

func (f *fixture) player(t *testing.T, uid string) PlayerRecord {
	t.Helper()
	var p PlayerRecord
	if err := f.st.Get(context.Background(), PlayerRef("r1", uid), &p); err != nil {
		t.Fatalf("read player %s: %v", uid, err)
	}
	return p
}

func (f *fixture) hand(t *testing.T, uid string) HandRecord {
	t.Helper()
	var h HandRecord
	if err := f.st.Get(context.Background(), HandRef("r1", uid), &h); err != nil {
		t.Fatalf("read hand %s: %v", uid, err)
	}
	return h
}

func (f *fixture) eliminate(t *testing.T, uid string) {
	t.Helper()
	err := f.st.RunTransaction(context.Background(), func(tx *store.Tx) error {
		var p PlayerRecord
		if err := tx.Get(PlayerRef("r1", uid), &p); err != nil {
			return err
		}
		var h HandRecord
		if err := tx.Get(HandRef("r1", uid), &h); err != nil {
			return err
		}
		for i := range h.Revealed {
			h.Revealed[i] = true
			p.PublicCards[i].Revealed = true
			p.PublicCards[i].CardID = h.CardIDs[i]
		}
		p.Eliminated = true
		if err := tx.Set(HandRef("r1", uid), h); err != nil {
			return err
		}
		return tx.Set(PlayerRef("r1", uid), p)
	})
	if err != nil {
		t.Fatalf("eliminate %s: %v", uid, err)
	}
}

// checkInvariants asserts the structural invariants that must hold after
// every committed transaction.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	state := f.state(t)
	totalInHands := 0
	for _, uid := range f.seats {
		h := f.hand(t, uid)
		p := f.player(t, uid)
		if len(h.CardIDs) != len(h.Revealed) || len(h.CardIDs) != len(p.PublicCards) {
			t.Fatalf("length invariant broken for %s: cards=%d revealed=%d public=%d",
				uid, len(h.CardIDs), len(h.Revealed), len(p.PublicCards))
		}
		seen := make(map[int]bool)
		for i, pc := range p.PublicCards {
			if pc.Idx != i {
				t.Fatalf("publicCards not sorted by idx for %s: %v", uid, p.PublicCards)
			}
			if seen[pc.Idx] {
				t.Fatalf("duplicate public idx for %s", uid)
			}
			seen[pc.Idx] = true
		}
		if p.Eliminated != allRevealed(h.Revealed) {
			t.Fatalf("elimination not derived from reveals for %s: eliminated=%v revealed=%v",
				uid, p.Eliminated, h.Revealed)
		}
		totalInHands += len(h.CardIDs)
	}
	if len(state.Deck)+totalInHands > 24 {
		t.Fatalf("deck+hands exceeds 24: deck=%d hands=%d", len(state.Deck), totalInHands)
	}
	if state.DeckCount != len(state.Deck) {
		t.Fatalf("deckCount out of sync: %d vs %d", state.DeckCount, len(state.Deck))
	}
}

func TestDrawMovesTopCardAndPhase(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B02", "W05"}, {"B03", "W06"},
	}, []string{"W11", "B09"}, PhaseDraw, 0)

	if err := f.repo(uidA).Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}

	state := f.state(t)
	if state.Phase != PhaseMustGuess {
		t.Fatalf("expected must_guess, got %s", state.Phase)
	}
	if state.TurnUID != uidA {
		t.Fatalf("draw must not move the turn, got %s", state.TurnUID)
	}
	if len(state.Deck) != 1 || state.Deck[0] != "B09" {
		t.Fatalf("expected deck [B09], got %v", state.Deck)
	}
	hand := f.hand(t, uidA)
	if len(hand.CardIDs) != 3 {
		t.Fatalf("expected 3 cards, got %v", hand.CardIDs)
	}
	// W11 sorts after B01 and W04.
	if hand.CardIDs[2] != "W11" || hand.Revealed[2] {
		t.Fatalf("drawn card misplaced or revealed: %v %v", hand.CardIDs, hand.Revealed)
	}
	f.checkInvariants(t)
}

func TestDrawKeepsRevealedAttachedThroughSort(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"W10", "B11"}, {"B02"}, {"B03"},
	}, []string{"B00"}, PhaseDraw, 0)
	// Reveal W10 (idx 0) first so the sort has something to carry.
	err := f.st.RunTransaction(context.Background(), func(tx *store.Tx) error {
		var h HandRecord
		if err := tx.Get(HandRef("r1", uidA), &h); err != nil {
			return err
		}
		var p PlayerRecord
		if err := tx.Get(PlayerRef("r1", uidA), &p); err != nil {
			return err
		}
		h.Revealed[0] = true
		p.PublicCards[0].Revealed = true
		p.PublicCards[0].CardID = "W10"
		if err := tx.Set(HandRef("r1", uidA), h); err != nil {
			return err
		}
		return tx.Set(PlayerRef("r1", uidA), p)
	})
	if err != nil {
		t.Fatalf("reveal setup: %v", err)
	}

	if err := f.repo(uidA).Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}

	// Sorted hand: B00, W10, B11. The revealed flag must follow W10 to idx 1.
	hand := f.hand(t, uidA)
	want := []string{"B00", "W10", "B11"}
	for i, id := range want {
		if hand.CardIDs[i] != id {
			t.Fatalf("hand not in canonical order: %v", hand.CardIDs)
		}
	}
	if hand.Revealed[0] || !hand.Revealed[1] || hand.Revealed[2] {
		t.Fatalf("revealed flags detached: %v", hand.Revealed)
	}
	p := f.player(t, uidA)
	if !p.PublicCards[1].Revealed || p.PublicCards[1].CardID != "W10" {
		t.Fatalf("public entry lost its reveal: %+v", p.PublicCards)
	}
	f.checkInvariants(t)
}

func TestDrawOnEmptyDeckSkipsToMustGuess(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B02"}, {"B03"},
	}, nil, PhaseDraw, 0)

	if err := f.repo(uidA).Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseMustGuess {
		t.Fatalf("expected must_guess, got %s", state.Phase)
	}
	if len(f.hand(t, uidA).CardIDs) != 1 {
		t.Fatal("no card may move when the deck is empty")
	}
}

func TestDrawOutOfTurnIsNoop(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B02"}, {"B03"},
	}, []string{"W11"}, PhaseDraw, 0)

	if err := f.repo(uidB).Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if f.state(t).Phase != PhaseDraw {
		t.Fatal("out-of-turn draw must not commit")
	}
	if len(f.hand(t, uidB).CardIDs) != 1 {
		t.Fatal("out-of-turn draw must not move cards")
	}
}

func TestDrawWithFullyRevealedHandEliminates(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B02"}, {"B03"},
	}, []string{"W11"}, PhaseDraw, 0)
	// Reveal uidA's whole hand without marking elimination, the
	// inconsistent intermediate state the degenerate path repairs.
	err := f.st.RunTransaction(context.Background(), func(tx *store.Tx) error {
		var h HandRecord
		if err := tx.Get(HandRef("r1", uidA), &h); err != nil {
			return err
		}
		h.Revealed[0] = true
		return tx.Set(HandRef("r1", uidA), h)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := f.repo(uidA).Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if !f.player(t, uidA).Eliminated {
		t.Fatal("fully revealed hand must eliminate on draw attempt")
	}
	if len(f.hand(t, uidA).CardIDs) != 1 {
		t.Fatal("no draw may happen on the degenerate path")
	}
	if f.state(t).Phase == PhaseFinished {
		t.Fatal("two seats still alive, match must not finish")
	}
}

func TestGuessCorrectRevealsAndKeepsTurn(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B07", "W05"}, {"B03", "W06"},
	}, []string{"W11"}, PhaseMustGuess, 0)

	// Seat 1's card 0 is B07.
	if err := f.repo(uidA).Guess(context.Background(), 1, 0, 7, true); err != nil {
		t.Fatalf("guess: %v", err)
	}

	state := f.state(t)
	if state.Phase != PhaseGuessChoice {
		t.Fatalf("expected guess_choice, got %s", state.Phase)
	}
	if state.TurnUID != uidA {
		t.Fatal("correct guess must retain the turn")
	}
	target := f.player(t, uidB)
	if !target.PublicCards[0].Revealed || target.PublicCards[0].CardID != "B07" {
		t.Fatalf("target card not revealed: %+v", target.PublicCards)
	}
	if !f.hand(t, uidB).Revealed[0] {
		t.Fatal("target hand reveal flag not set")
	}
	f.checkInvariants(t)
}

func TestGuessWrongPenaltyAndTurnAdvance(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B07", "W05"}, {"B03", "W06"},
	}, []string{"W11"}, PhaseMustGuess, 0)

	// Seat 2's card 0 is B03; guess B09, wrong.
	if err := f.repo(uidA).Guess(context.Background(), 2, 0, 9, true); err != nil {
		t.Fatalf("guess: %v", err)
	}

	state := f.state(t)
	if state.Phase != PhaseDraw {
		t.Fatalf("expected draw, got %s", state.Phase)
	}
	if state.TurnSeat != 1 || state.TurnUID != uidB {
		t.Fatalf("turn must advance to seat 1, got seat=%d uid=%s", state.TurnSeat, state.TurnUID)
	}
	me := f.hand(t, uidA)
	if !me.Revealed[len(me.Revealed)-1] {
		t.Fatal("penalty must reveal the guesser's last card")
	}
	if f.hand(t, uidC).Revealed[0] {
		t.Fatal("wrong guess must not reveal the target card")
	}
	f.checkInvariants(t)
}

func TestGuessWrongSkipsEliminatedSeat(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B07"}, {"B03", "W06"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	f.eliminate(t, uidB)

	if err := f.repo(uidA).Guess(context.Background(), 2, 0, 9, true); err != nil {
		t.Fatalf("guess: %v", err)
	}
	state := f.state(t)
	if state.TurnSeat != 2 || state.TurnUID != uidC {
		t.Fatalf("turn must skip eliminated seat 1, got seat=%d", state.TurnSeat)
	}
}

func TestGuessAgainstRevealedCardIsNoop(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07", "W05"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	err := f.st.RunTransaction(context.Background(), func(tx *store.Tx) error {
		var h HandRecord
		if err := tx.Get(HandRef("r1", uidB), &h); err != nil {
			return err
		}
		var p PlayerRecord
		if err := tx.Get(PlayerRef("r1", uidB), &p); err != nil {
			return err
		}
		h.Revealed[0] = true
		p.PublicCards[0].Revealed = true
		p.PublicCards[0].CardID = h.CardIDs[0]
		if err := tx.Set(HandRef("r1", uidB), h); err != nil {
			return err
		}
		return tx.Set(PlayerRef("r1", uidB), p)
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := f.repo(uidA).Guess(context.Background(), 1, 0, 7, true); err != nil {
		t.Fatalf("guess: %v", err)
	}
	if f.state(t).Phase != PhaseMustGuess {
		t.Fatal("guess at a revealed card must be a no-op")
	}
	if f.hand(t, uidA).Revealed[0] {
		t.Fatal("no penalty may apply on a rejected guess")
	}
}

func TestGuessStalePhaseIsNoop(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseDraw, 0)

	if err := f.repo(uidA).Guess(context.Background(), 1, 0, 7, true); err != nil {
		t.Fatalf("guess: %v", err)
	}
	if f.state(t).Phase != PhaseDraw {
		t.Fatal("guess outside must_guess must not commit")
	}
}

func TestGuessEliminatingLastOpponentFinishes(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	f.eliminate(t, uidC)

	// uidB has a single card; a correct guess fully reveals and
	// eliminates them, leaving uidA the sole survivor.
	if err := f.repo(uidA).Guess(context.Background(), 1, 0, 7, true); err != nil {
		t.Fatalf("guess: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseFinished {
		t.Fatalf("expected finished, got %s", state.Phase)
	}
	if state.WinnerUID != uidA {
		t.Fatalf("expected winner %s, got %s", uidA, state.WinnerUID)
	}
	if !f.player(t, uidB).Eliminated {
		t.Fatal("target must be eliminated")
	}
	f.checkInvariants(t)
}

func TestGuessWrongSelfEliminationFinishesForSurvivor(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07", "W05"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	f.eliminate(t, uidC)

	// uidA's single card reveals on the penalty, eliminating uidA; uidB
	// is the last seat standing.
	if err := f.repo(uidA).Guess(context.Background(), 1, 0, 9, true); err != nil {
		t.Fatalf("guess: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseFinished || state.WinnerUID != uidB {
		t.Fatalf("expected uidB to win, got phase=%s winner=%s", state.Phase, state.WinnerUID)
	}
	f.checkInvariants(t)
}

func TestContinueGuessReturnsToMustGuess(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseGuessChoice, 0)

	if err := f.repo(uidA).ContinueGuess(context.Background()); err != nil {
		t.Fatalf("continue: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseMustGuess || state.TurnUID != uidA {
		t.Fatalf("expected must_guess with same actor, got %s %s", state.Phase, state.TurnUID)
	}
}

func TestContinueGuessWithNoOpponentsFinishes(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseGuessChoice, 0)
	f.eliminate(t, uidB)
	f.eliminate(t, uidC)

	if err := f.repo(uidA).ContinueGuess(context.Background()); err != nil {
		t.Fatalf("continue: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseFinished || state.WinnerUID != uidA {
		t.Fatalf("expected finished with winner %s, got %s %s", uidA, state.Phase, state.WinnerUID)
	}
}

func TestEndTurnAdvancesToNextLivingSeat(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseGuessChoice, 0)
	f.eliminate(t, uidB)

	if err := f.repo(uidA).EndTurn(context.Background()); err != nil {
		t.Fatalf("end turn: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseDraw || state.TurnSeat != 2 || state.TurnUID != uidC {
		t.Fatalf("expected draw at seat 2, got phase=%s seat=%d", state.Phase, state.TurnSeat)
	}
}

func TestForceMustGuessWhenDeckEmpty(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, nil, PhaseDraw, 0)

	repo := f.repo(uidA)
	if err := repo.ForceMustGuessWhenDeckEmpty(context.Background()); err != nil {
		t.Fatalf("force: %v", err)
	}
	first := f.state(t)
	if first.Phase != PhaseMustGuess {
		t.Fatalf("expected must_guess, got %s", first.Phase)
	}
	if len(f.hand(t, uidA).CardIDs) != 1 {
		t.Fatal("force must move no cards")
	}

	// Idempotent: a second invocation with no intervening change leaves
	// the record exactly as the first did.
	if err := repo.ForceMustGuessWhenDeckEmpty(context.Background()); err != nil {
		t.Fatalf("force twice: %v", err)
	}
	second := f.state(t)
	if !reflect.DeepEqual(second, first) {
		t.Fatalf("second force changed the record: %+v vs %+v", second, first)
	}
}

func TestForceMustGuessWithCardsLeftIsNoop(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseDraw, 0)

	if err := f.repo(uidA).ForceMustGuessWhenDeckEmpty(context.Background()); err != nil {
		t.Fatalf("force: %v", err)
	}
	if f.state(t).Phase != PhaseDraw {
		t.Fatal("force with a non-empty deck must be a no-op")
	}
}

func TestHostFixTurnAdvancesPastEliminatedHolder(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	f.eliminate(t, uidA)

	if err := f.repo(uidA).HostFixTurnIfCurrentTurnEliminated(context.Background()); err != nil {
		t.Fatalf("fix turn: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseDraw || state.TurnSeat != 1 || state.TurnUID != uidB {
		t.Fatalf("expected draw at seat 1, got phase=%s seat=%d", state.Phase, state.TurnSeat)
	}
}

func TestHostFixTurnNoopWhenHolderAlive(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)

	if err := f.repo(uidA).HostFixTurnIfCurrentTurnEliminated(context.Background()); err != nil {
		t.Fatalf("fix turn: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseMustGuess || state.TurnSeat != 0 {
		t.Fatal("living turn-holder must not be disturbed")
	}
}

func TestHostFixTurnFinishesWhenOneSurvives(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	f.eliminate(t, uidA)
	f.eliminate(t, uidC)

	if err := f.repo(uidA).HostFixTurnIfCurrentTurnEliminated(context.Background()); err != nil {
		t.Fatalf("fix turn: %v", err)
	}
	state := f.state(t)
	if state.Phase != PhaseFinished || state.WinnerUID != uidB {
		t.Fatalf("expected uidB to win, got %s %s", state.Phase, state.WinnerUID)
	}
}

func TestHostResetDealsFreshMatch(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, nil, PhaseFinished, 0)
	f.eliminate(t, uidB)
	f.eliminate(t, uidC)

	if err := f.repo(uidA).HostResetRoomForNextMatch(context.Background(), 4); err != nil {
		t.Fatalf("reset: %v", err)
	}

	state := f.state(t)
	if state.Phase != PhaseDraw || state.TurnSeat != 0 || state.TurnUID != uidA {
		t.Fatalf("reset must restart at seat 0: %+v", state)
	}
	if state.WinnerUID != "" {
		t.Fatal("reset must clear the winner")
	}
	if len(state.Deck) != 24-Seats*4 {
		t.Fatalf("expected %d cards left, got %d", 24-Seats*4, len(state.Deck))
	}
	seen := make(map[string]struct{})
	for _, id := range state.Deck {
		seen[id] = struct{}{}
	}
	for _, uid := range f.seats {
		p := f.player(t, uid)
		h := f.hand(t, uid)
		if p.Eliminated {
			t.Fatalf("reset must clear elimination for %s", uid)
		}
		if len(h.CardIDs) != 4 || len(p.PublicCards) != 4 {
			t.Fatalf("expected 4 dealt cards for %s", uid)
		}
		for i, pc := range p.PublicCards {
			if pc.Revealed || pc.CardID != "" {
				t.Fatalf("freshly dealt card already revealed: %+v", pc)
			}
			if h.Revealed[i] {
				t.Fatalf("hand reveal flag set after reset")
			}
			if _, dup := seen[h.CardIDs[i]]; dup {
				t.Fatalf("dealt card %s also in deck", h.CardIDs[i])
			}
			seen[h.CardIDs[i]] = struct{}{}
		}
	}
	if len(seen) != 24 {
		t.Fatalf("deal must conserve the 24-card deck, saw %d", len(seen))
	}

	var room RoomRecord
	if err := f.st.Get(context.Background(), RoomRef("r1"), &room); err != nil {
		t.Fatalf("read room: %v", err)
	}
	if room.Status != RoomStatusLobby {
		t.Fatalf("reset must flip room status to lobby, got %s", room.Status)
	}
	f.checkInvariants(t)
}

func TestHostResetRejectsNonHost(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01"}, {"B07"}, {"B03"},
	}, nil, PhaseFinished, 0)

	if err := f.repo(uidB).HostResetRoomForNextMatch(context.Background(), 4); err == nil {
		t.Fatal("non-host reset must fail")
	}
}

func TestConcurrentDrawAndGuessOnlyOneProceeds(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W04"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseDraw, 0)

	// Draw commits first and moves phase to must_guess; the racing guess
	// then sees must_guess and proceeds, but a second draw is a no-op.
	repo := f.repo(uidA)
	if err := repo.Draw(context.Background()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := repo.Draw(context.Background()); err != nil {
		t.Fatalf("double draw: %v", err)
	}
	hand := f.hand(t, uidA)
	if len(hand.CardIDs) != 3 {
		t.Fatalf("double-click draw must not draw twice: %v", hand.CardIDs)
	}
	f.checkInvariants(t)
}

func TestRulesDirect(t *testing.T) {
	seats := []string{uidA, uidB, uidC}
	if w := winnerIfOnlyOneAlive(seats, map[string]bool{uidA: true, uidB: true}); w != uidC {
		t.Fatalf("expected %s, got %q", uidC, w)
	}
	if w := winnerIfOnlyOneAlive(seats, map[string]bool{uidA: true}); w != "" {
		t.Fatalf("two alive must have no winner, got %q", w)
	}
	if s := nextAliveSeat(0, seats, map[string]bool{uidB: true}); s != 2 {
		t.Fatalf("expected seat 2, got %d", s)
	}
	if s := nextAliveSeat(0, seats, map[string]bool{uidA: true, uidB: true, uidC: true}); s != -1 {
		t.Fatalf("expected -1, got %d", s)
	}
	if allRevealed(nil) {
		t.Fatal("empty hand must not count as revealed")
	}
}

func TestGuessNoAliveSeatIsIntegrityFault(t *testing.T) {
	f := newFixture(t, [Seats][]string{
		{"B01", "W02"}, {"B07"}, {"B03"},
	}, []string{"W11"}, PhaseMustGuess, 0)
	// Break the seat map on purpose so the precondition check trips.
	err := f.st.RunTransaction(context.Background(), func(tx *store.Tx) error {
		var state StateRecord
		if err := tx.Get(StateRef("r1"), &state); err != nil {
			return err
		}
		state.SeatToUID = state.SeatToUID[:2]
		return tx.Set(StateRef("r1"), state)
	})
	if err != nil {
		t.Fatalf("corrupt setup: %v", err)
	}

	guessErr := f.repo(uidA).Guess(context.Background(), 1, 0, 9, true)
	if !errors.Is(guessErr, ErrDataIntegrity) {
		t.Fatalf("expected integrity fault, got %v", guessErr)
	}
	if f.hand(t, uidA).Revealed[0] {
		t.Fatal("aborted transaction must leave no partial penalty")
	}
}
