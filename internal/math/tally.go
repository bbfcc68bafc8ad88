package math

// WinningsFromVotes pays a voter their stake when they sided with the poll
func WinningsFromVotes(pollDirection, voterDirection bool, amount uint64) uint64 {
	if pollDirection == voterDirection {
		return amount
	}
	return 0
}

// Outcome resolves a poll. Ties bypass the returns calculator and refund everyone.
func Outcome(totalFor, totalAgainst uint32) (direction bool, tie bool) {
	if totalFor == totalAgainst {
		return false, true
	}
	return totalFor > totalAgainst, false
}
