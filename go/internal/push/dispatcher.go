package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/rs/zerolog/log"
)

var ErrMalformedEvent = errors.New("malformed push event")

type RoundFinishedHandler interface {
	HandleRoundFinished(result models.RoundResult)
}

type ServerTimeObserver interface {
	Observe(epoch int64) bool
}

type PriceObserver interface {
	Update(pairID models.PairID, price float64, at time.Time) bool
}

// Dispatcher decodes envelopes and routes them to their consumers. Nil
// consumers drop their events.
type Dispatcher struct {
	UserID     int64
	Rounds     RoundFinishedHandler
	ServerTime ServerTimeObserver
	Prices     PriceObserver
}

// Dispatch handles one frame. Unknown events are ignored; undecodable ones
// return an error wrapping ErrMalformedEvent.
func (d *Dispatcher) Dispatch(frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Event {
	case EventRoundFinished:
		var ev RoundFinishedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("%w: round_finished: %v", ErrMalformedEvent, err)
		}
		if ev.RoundID == "" {
			return fmt.Errorf("%w: round_finished without round_id", ErrMalformedEvent)
		}
		if d.UserID != 0 && ev.UserID != 0 && ev.UserID != d.UserID {
			return nil
		}
		log.Debug().
			Str("round_id", ev.RoundID.String()).
			Bool("win", ev.Win).
			Msg("received round_finished push")
		if d.Rounds != nil {
			d.Rounds.HandleRoundFinished(ev.Result())
		}

	case EventServerTime:
		var ev ServerTimeEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("%w: server_time: %v", ErrMalformedEvent, err)
		}
		epoch, err := ev.EpochSeconds()
		if err != nil {
			return fmt.Errorf("%w: server_time: %v", ErrMalformedEvent, err)
		}
		if d.ServerTime != nil {
			d.ServerTime.Observe(epoch)
		}

	case EventPriceUpdate:
		var ev PriceUpdateEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("%w: price_update: %v", ErrMalformedEvent, err)
		}
		if d.Prices != nil {
			at := time.Now()
			if ev.Timestamp > 0 {
				at = trading_api_client.FromUnix(ev.Timestamp)
			}
			d.Prices.Update(ev.PairID, ev.Price, at)
		}

	default:
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown push event")
	}
	return nil
}
