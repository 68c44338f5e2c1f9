package settlement

import (
	"context"
	"fmt"

	"github.com/mcdev12/roundclient/go/internal/models"
)

// Strategy names a settlement design. A session uses exactly one.
type Strategy string

const (
	// StrategyClient draws the outcome locally and writes it back to the server.
	StrategyClient Strategy = "client"
	// StrategyPush waits for the server's round_finished push.
	StrategyPush Strategy = "push"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyClient, StrategyPush:
		return Strategy(s), nil
	case "":
		return StrategyClient, nil
	default:
		return "", fmt.Errorf("unknown settlement strategy %q", s)
	}
}

// Engine concludes a round whose countdown reached zero. The returned
// result is only valid once the server acknowledged it; its NewBalance is
// authoritative.
type Engine interface {
	Strategy() Strategy
	Settle(ctx context.Context, round models.Round) (models.RoundResult, error)
}

// PushReceiver is implemented by engines that take results from the push
// channel. Deliver reports whether a pending Settle call consumed the result.
type PushReceiver interface {
	Deliver(result models.RoundResult) bool
}
