package game

// winnerIfOnlyOneAlive returns the sole surviving identity, or "" while zero
// or two-plus seats are still alive. Empty seats never count as survivors.
func winnerIfOnlyOneAlive(seatToUID []string, elimByUID map[string]bool) string {
	alive := 0
	winner := ""
	for _, uid := range seatToUID {
		if uid == "" {
			continue
		}
		if !elimByUID[uid] {
			alive++
			winner = uid
		}
	}
	if alive == 1 {
		return winner
	}
	return ""
}

// nextAliveSeat scans forward from current+1 for at most one full rotation
// and returns the first living seat, or -1 if none exists. A -1 is a
// data-integrity fault: the caller aborts instead of guessing a turn-holder.
func nextAliveSeat(current int, seatToUID []string, elimByUID map[string]bool) int {
	for step := 1; step <= Seats; step++ {
		seat := (current + step) % Seats
		uid := seatToUID[seat]
		if uid == "" {
			continue
		}
		if !elimByUID[uid] {
			return seat
		}
	}
	return -1
}

// allRevealed reports whether every card in the hand is face up. An empty
// hand is not considered revealed; elimination requires actual cards.
func allRevealed(revealed []bool) bool {
	if len(revealed) == 0 {
		return false
	}
	for _, r := range revealed {
		if !r {
			return false
		}
	}
	return true
}
