// Package budget implements the pure solvency and increment arithmetic: the
// maximum a team may bid while still being able to fill its remaining squad
// slots at base price, and the next valid open-outcry amount.
package budget

import (
	"math"
	"slices"

	"github.com/jensholdgaard/gavel/internal/domain"
)

// Scarcity inflation bounds: when total demand exceeds remaining supply the
// reserve is inflated by 1 + 0.3*(r-1), capped at 15%.
const (
	scarcitySlope = 0.3
	scarcityCap   = 1.15
)

// Input carries everything MaxAllowedBid needs. RemainingBasePrices are the
// base prices of players still available for future rounds, excluding the
// player currently on the block.
type Input struct {
	RemainingBudget     int64
	SquadSize           int
	SquadCount          int
	RemainingBasePrices []int64
	LowestBasePrice     int64
	// TotalSlotsNeeded is the sum of open squad slots across all teams,
	// used for the scarcity ratio.
	TotalSlotsNeeded int
}

// SlotsNeeded returns the number of squad slots the team still has to fill.
func (in Input) SlotsNeeded() int {
	return in.SquadSize - in.SquadCount
}

// Reserve computes the budget the team must hold back to cover its future
// slots at base price, with mild scarcity inflation when demand exceeds
// supply.
func Reserve(in Input) int64 {
	futureSlots := in.SlotsNeeded() - 1
	if futureSlots <= 0 {
		return 0
	}

	prices := slices.Clone(in.RemainingBasePrices)
	slices.Sort(prices)

	var reserve int64
	for i := 0; i < futureSlots; i++ {
		if i < len(prices) {
			reserve += prices[i]
		} else {
			// Fewer players remain than slots to fill; pad with the
			// cheapest tier so the bound stays conservative.
			reserve += in.LowestBasePrice
		}
	}

	if n := len(prices); n > 0 && in.TotalSlotsNeeded > n {
		r := float64(in.TotalSlotsNeeded) / float64(n)
		factor := 1 + scarcitySlope*(r-1)
		if factor > scarcityCap {
			factor = scarcityCap
		}
		reserve = int64(math.Round(float64(reserve) * factor))
	}
	return reserve
}

// MaxAllowedBid returns the largest amount the team may commit on the
// current player without losing the ability to fill its squad.
func MaxAllowedBid(in Input) int64 {
	slots := in.SlotsNeeded()
	if slots <= 0 {
		return 0
	}
	if slots == 1 {
		// Last slot: the whole remaining budget is spendable.
		return in.RemainingBudget
	}
	allowed := in.RemainingBudget - Reserve(in)
	if allowed < 0 {
		return 0
	}
	return allowed
}

// NextBidAmount returns the next valid outcry amount. The opening bid of a
// round is exactly the base price; afterwards the increment is looked up by
// the interval the currentBid/basePrice multiplier falls into. When no rule
// matches, the last rule's increment applies.
func NextBidAmount(currentBid, basePrice int64, rules []domain.IncrementRule) int64 {
	if currentBid <= 0 {
		return basePrice
	}
	if len(rules) == 0 || basePrice <= 0 {
		return currentBid + 1
	}
	multiplier := float64(currentBid) / float64(basePrice)
	for _, rule := range rules {
		if rule.Matches(multiplier) {
			return currentBid + rule.Increment
		}
	}
	return currentBid + rules[len(rules)-1].Increment
}
