// allocator/allocator.go
package allocator

import (
	"github.com/shopspring/decimal"
)

// OrderQuantity converts account equity into a share count for one entry:
// allocationPct of total equity at the reference price, floored to whole
// shares and capped by orderable cash. Returns 0 when the account cannot
// fund at least one share or the inputs are degenerate; 0 is a normal
// skip, not an error.
func OrderQuantity(totalEquity, orderableCash, referencePrice, allocationPct float64) int64 {
	if totalEquity <= 0 || referencePrice <= 0 || allocationPct <= 0 {
		return 0
	}

	price := decimal.NewFromFloat(referencePrice)
	target := decimal.NewFromFloat(totalEquity).
		Mul(decimal.NewFromFloat(allocationPct)).
		Div(decimal.NewFromInt(100))

	qty := target.Div(price).Floor().IntPart()
	if qty < 1 {
		return 0
	}

	// Cap by cash so unsettled balances are never overcommitted.
	maxByCash := decimal.NewFromFloat(orderableCash).Div(price).Floor().IntPart()
	if qty > maxByCash {
		qty = maxByCash
	}
	if qty < 1 {
		return 0
	}
	return qty
}
