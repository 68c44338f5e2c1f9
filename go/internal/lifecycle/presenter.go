package lifecycle

import (
	"time"

	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
)

// OrderMarker is what the presentation layer needs to draw a round.
type OrderMarker struct {
	PairID           models.PairID
	RoundID          models.RoundID
	Direction        models.Direction
	Price            float64
	CreatedAt        time.Time
	CountdownSeconds int
	EndsAt           *time.Time
	Amount           decimal.Decimal
}

// Presenter is the chart/DOM surface. Calls arrive from timer and network
// goroutines, so implementations must be safe for concurrent use.
type Presenter interface {
	DrawOrderMarker(marker OrderMarker)
	RemoveOrderMarker(pairID models.PairID, roundID models.RoundID)
	UpdateOrderCountdown(pairID models.PairID, roundID models.RoundID, remainingSeconds int)
	// CurrentPrice returns the last known price of the pair, if any.
	CurrentPrice(pairID models.PairID) (float64, bool)
	BalanceChanged(balance decimal.Decimal)
	RoundSettled(round models.Round, result models.RoundResult)
	// Notify shows a user-facing message.
	Notify(message string)
}
