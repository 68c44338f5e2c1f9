package presenter

import (
	"bytes"
	"testing"
	"time"

	"github.com/mcdev12/roundclient/go/internal/lifecycle"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBook_Update(t *testing.T) {
	book := NewPriceBook()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok := book.Price(1)
	assert.False(t, ok)

	assert.True(t, book.Update(1, 64000.5, at))
	assert.False(t, book.Update(1, 0, at.Add(time.Second)))
	assert.False(t, book.Update(1, 63000, at.Add(-time.Second)))

	price, ok := book.Price(1)
	require.True(t, ok)
	assert.Equal(t, 64000.5, price)

	assert.True(t, book.Update(1, 64100, at.Add(time.Second)))
	price, _ = book.Price(1)
	assert.Equal(t, 64100.0, price)
}

func TestLogPresenter_MarkerLifecycle(t *testing.T) {
	var out bytes.Buffer
	p := NewLogPresenter(&out, nil, decimal.Zero)

	p.DrawOrderMarker(lifecycle.OrderMarker{
		PairID:           1,
		RoundID:          "42",
		Direction:        models.DirectionUp,
		Price:            64000.5,
		CountdownSeconds: 60,
		Amount:           decimal.NewFromInt(5),
	})
	p.DrawOrderMarker(lifecycle.OrderMarker{
		PairID:           2,
		RoundID:          "43",
		Direction:        models.DirectionDown,
		Price:            3000,
		CountdownSeconds: 30,
		Amount:           decimal.NewFromInt(10),
	})

	assert.Contains(t, out.String(), "BUY 42 on pair 1 at 64000.50 (stake 5.00, pays 4.25), 01:00 left")

	p.UpdateOrderCountdown(1, "42", 5)
	markers := p.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, models.RoundID("42"), markers[0].RoundID)
	assert.Equal(t, 5, markers[0].Remaining)

	p.RemoveOrderMarker(1, "42")
	p.RemoveOrderMarker(1, "42")
	require.Len(t, p.Markers(), 1)

	// Updates for removed markers are dropped.
	p.UpdateOrderCountdown(1, "42", 4)
	assert.Len(t, p.Markers(), 1)
}

func TestLogPresenter_SettledAndNotify(t *testing.T) {
	var out bytes.Buffer
	p := NewLogPresenter(&out, nil, decimal.Zero)

	p.RoundSettled(models.Round{ID: "42"}, models.RoundResult{
		RoundID:    "42",
		Win:        false,
		Profit:     decimal.NewFromInt(-5),
		NewBalance: decimal.NewFromInt(95),
	})
	p.Notify("Insufficient balance")

	assert.Contains(t, out.String(), "round 42 LOST: profit -5.00, balance 95.00")
	assert.Contains(t, out.String(), "Insufficient balance\n")
}

func TestLogPresenter_CurrentPriceFromBook(t *testing.T) {
	book := NewPriceBook()
	p := NewLogPresenter(nil, book, decimal.Zero)

	book.Update(3, 1.0842, time.Now())

	price, ok := p.CurrentPrice(3)
	require.True(t, ok)
	assert.Equal(t, 1.0842, price)
}
