package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/roundclient/go/clients/trading_api_client"
	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/lifecycle"
	"github.com/mcdev12/roundclient/go/internal/presenter"
	"github.com/mcdev12/roundclient/go/internal/push"
	"github.com/mcdev12/roundclient/go/internal/servertime"
	"github.com/mcdev12/roundclient/go/internal/settlement"
)

// pushSource is a running push transport.
type pushSource interface {
	Run(ctx context.Context) error
}

type Services struct {
	SessionID  string
	Config     *Config
	Clock      clockwork.Clock
	API        *trading_api_client.TradingApiClient
	ServerTime *servertime.Source
	Engine     settlement.Engine
	Presenter  *presenter.LogPresenter
	Controller *lifecycle.Controller
	Push       pushSource

	closers []func() error
}

func setupServices(ctx context.Context, cfg *Config, clock clockwork.Clock, out io.Writer) (*Services, error) {
	// Wire up dependency injection chain
	// HTTP client → server time → settlement engine → controller → push transport

	api := trading_api_client.NewTradingApiClient(cfg.API.BaseURL)
	if cfg.API.Timeout > 0 {
		api.SetTimeout(cfg.API.Timeout)
	}

	timeSource := servertime.NewSource(api, clock, cfg.Intervals.ServerTimePoll)

	var engine settlement.Engine
	switch cfg.strategy() {
	case settlement.StrategyPush:
		engine = settlement.NewPushEngine(clock, cfg.Settlement.PushTimeout)
	default:
		engine = settlement.NewClientOutcomeEngine(api, settlement.ClientOutcomeConfig{
			PayoutRate:     cfg.payoutRate(),
			DefaultWinRate: cfg.Settlement.DefaultWinRate,
		}, nil)
	}

	view := presenter.NewLogPresenter(out, presenter.NewPriceBook(), cfg.payoutRate())

	controller := lifecycle.NewController(lifecycle.Config{
		UserID:            cfg.UserID,
		DurationSeconds:   cfg.Trading.DurationSec,
		AlignToMinute:     cfg.Trading.AlignToMinute,
		FallbackPrice:     cfg.Trading.FallbackPrice,
		ReconcileInterval: cfg.Intervals.Reconcile,
	}, api, timeSource, countdown.NewScheduler(clock, cfg.Intervals.Tick), engine, view, clock)

	services := &Services{
		SessionID:  uuid.NewString(),
		Config:     cfg,
		Clock:      clock,
		API:        api,
		ServerTime: timeSource,
		Engine:     engine,
		Presenter:  view,
		Controller: controller,
	}

	dispatcher := &push.Dispatcher{
		UserID:     cfg.UserID,
		Rounds:     controller,
		ServerTime: timeSource,
		Prices:     view.Prices(),
	}

	switch cfg.Push.Transport {
	case pushTransportWebSocket:
		wsCfg := push.DefaultWebSocketConfig()
		wsCfg.URL = cfg.Push.WebSocketURL
		wsCfg.UserID = cfg.UserID
		wsCfg.Header = http.Header{"X-Session-Id": []string{services.SessionID}}
		services.Push = push.NewWebSocketSource(wsCfg, dispatcher, clock)
	case pushTransportNATS:
		jsCfg := push.DefaultJetStreamConfig()
		jsCfg.URL = cfg.Push.NATSURL
		jsCfg.StreamName = cfg.Push.Stream
		jsCfg.ConsumerName = cfg.Push.Consumer
		jsCfg.SubjectFilter = cfg.Push.Subject
		source, err := push.NewJetStreamSource(ctx, jsCfg, dispatcher)
		if err != nil {
			controller.Close()
			return nil, fmt.Errorf("failed to create JetStream source: %w", err)
		}
		services.Push = source
		services.closers = append(services.closers, source.Close)
	}

	log.Info().
		Str("session_id", services.SessionID).
		Int64("user_id", cfg.UserID).
		Str("api", cfg.API.BaseURL).
		Str("strategy", string(engine.Strategy())).
		Str("push", cfg.Push.Transport).
		Msg("services configured")

	return services, nil
}

// Run drives the background loops until ctx is done or one of them fails.
func (s *Services) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ServerTime.Run(ctx)
	})
	g.Go(func() error {
		return s.Controller.RunReconciler(ctx)
	})
	if s.Push != nil {
		g.Go(func() error {
			return s.Push.Run(ctx)
		})
	}
	if s.Config.Push.Transport == pushTransportNone {
		g.Go(func() error {
			return s.pollPrices(ctx)
		})
	}

	return g.Wait()
}

// pollPrices keeps the price book current when no price pushes arrive.
func (s *Services) pollPrices(ctx context.Context) error {
	ticker := s.Clock.NewTicker(s.Config.Intervals.PricePoll)
	defer ticker.Stop()

	for {
		for _, pair := range s.Controller.Pairs() {
			price, err := s.API.GetPrice(ctx, pair.ID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Debug().Err(err).Int64("pair_id", int64(pair.ID)).Msg("price poll failed")
				continue
			}
			s.Presenter.Prices().Update(pair.ID, price, s.Clock.Now())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

func (s *Services) Close() {
	s.Controller.Close()
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}
