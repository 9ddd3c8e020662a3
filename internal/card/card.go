package card

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

const (
	ColorBlack = "black"
	ColorWhite = "white"
)

// MaxRank is the highest rank in the deck; ranks run 0..MaxRank for each
// color, giving a 24-card deck.
const MaxRank = 11

// Parse decodes a card identifier such as "B07" or "W11" into its color and
// rank. Malformed identifiers are an error: a bad id inside a transaction
// means the record is corrupt and the transaction must abort rather than
// reveal a garbage rank.
func Parse(id string) (color string, rank int, err error) {
	if len(id) < 2 {
		return "", 0, fmt.Errorf("card id %q too short", id)
	}
	switch id[0] {
	case 'B', 'b':
		color = ColorBlack
	case 'W', 'w':
		color = ColorWhite
	default:
		return "", 0, fmt.Errorf("card id %q has unknown color prefix", id)
	}
	rank, convErr := strconv.Atoi(id[1:])
	if convErr != nil || rank < 0 || rank > MaxRank {
		return "", 0, fmt.Errorf("card id %q has invalid rank", id)
	}
	return color, rank, nil
}

// Format encodes (color, rank) into the canonical identifier with a
// zero-padded two-digit rank.
func Format(color string, rank int) string {
	prefix := "B"
	if strings.EqualFold(color, ColorWhite) {
		prefix = "W"
	}
	return fmt.Sprintf("%s%02d", prefix, rank)
}

// SortKey orders cards by rank ascending, black before white within a rank.
// Malformed ids sort last so a corrupt entry is at least visible.
func SortKey(id string) int {
	color, rank, err := Parse(id)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	colorRank := 0
	if color == ColorWhite {
		colorRank = 1
	}
	return rank*10 + colorRank
}

// NewDeck returns the full 24-card deck in rank order, one black and one
// white card per rank.
func NewDeck() []string {
	deck := make([]string, 0, 2*(MaxRank+1))
	for rank := 0; rank <= MaxRank; rank++ {
		deck = append(deck, Format(ColorBlack, rank))
		deck = append(deck, Format(ColorWhite, rank))
	}
	return deck
}

// Shuffle returns a shuffled copy of deck.
func Shuffle(deck []string, rng *rand.Rand) []string {
	out := make([]string, len(deck))
	copy(out, deck)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// SortHand sorts cardIds into canonical order, carrying the parallel
// revealed list along, and returns the old-index -> new-index permutation so
// callers can remap anything else keyed by hand position.
func SortHand(cardIds []string, revealed []bool) map[int]int {
	idxs := make([]int, len(cardIds))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return SortKey(cardIds[idxs[a]]) < SortKey(cardIds[idxs[b]])
	})

	newIds := make([]string, len(cardIds))
	newRevealed := make([]bool, len(cardIds))
	oldToNew := make(map[int]int, len(cardIds))
	for newIdx, oldIdx := range idxs {
		newIds[newIdx] = cardIds[oldIdx]
		if oldIdx < len(revealed) {
			newRevealed[newIdx] = revealed[oldIdx]
		}
		oldToNew[oldIdx] = newIdx
	}
	copy(cardIds, newIds)
	copy(revealed, newRevealed)
	return oldToNew
}
