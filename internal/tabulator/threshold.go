package tabulator

import "github.com/openrcv/tally/internal/decimal"

// computeThreshold determines the tally a candidate must reach to win,
// from the total continuing votes in the round it is (re)computed.
//
// The divisor is numberOfWinners+1 (Droop), or numberOfWinners when the
// Hare quota is enabled. The default integer threshold is
// floor(votes/divisor) + 1; the non-integer variant is the truncated
// quotient plus one smallest representable unit at the configured scale.
// Bottoms-up percentage-threshold contests instead take a straight
// fraction of the total.
func computeThreshold(totalVotes decimal.Decimal, rules *Rules, arith decimal.Context) decimal.Decimal {
	if rules.WinnerElectionMode == MultiSeatBottomsUpThreshold {
		return arith.Mul(totalVotes, rules.BottomsUpPercentageThreshold)
	}

	divisorSeats := rules.NumberOfWinners + 1
	if rules.HareQuota {
		divisorSeats = rules.NumberOfWinners
	}
	divisor := decimal.FromInt(divisorSeats)

	if rules.NonIntegerWinningThreshold {
		return arith.Div(totalVotes, divisor).Add(arith.SmallestUnit())
	}
	return decimal.FloorDiv(totalVotes, divisor).Add(decimal.One)
}
