package settlement

import "github.com/shopspring/decimal"

// DefaultPayoutRate is the share of the stake paid on a win.
var DefaultPayoutRate = decimal.RequireFromString("0.85")

// Profit is +amount*payout on a win and -amount on a loss.
func Profit(amount decimal.Decimal, win bool, payoutRate decimal.Decimal) decimal.Decimal {
	if win {
		return amount.Mul(payoutRate).Round(2)
	}
	return amount.Neg()
}

// Wins applies the draw rule: roll is uniform in [1,100] and the round is
// won when roll <= winRate, so 0 never wins and 100 always wins.
func Wins(winRate, roll int) bool {
	return roll <= winRate
}
