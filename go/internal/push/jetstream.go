package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds configuration for the JetStream push consumer.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "ROUND_EVENTS",
		ConsumerName:  "round-client",
		SubjectFilter: "rounds.events.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// JetStreamSource consumes push envelopes from a durable JetStream consumer.
type JetStreamSource struct {
	dispatcher *Dispatcher
	nc         *nats.Conn
	js         jetstream.JetStream
	consumer   jetstream.Consumer
	config     JetStreamConfig
}

func NewJetStreamSource(ctx context.Context, config JetStreamConfig, dispatcher *Dispatcher) (*JetStreamSource, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s := &JetStreamSource{
		dispatcher: dispatcher,
		nc:         nc,
		js:         js,
		config:     config,
	}

	if err := s.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	return s, nil
}

func (s *JetStreamSource) ensureConsumer(ctx context.Context) error {
	stream, err := s.js.Stream(ctx, s.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	// Only events published after the client starts matter; earlier rounds
	// are picked up by reconciliation.
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          s.config.ConsumerName,
		Durable:       s.config.ConsumerName,
		Description:   "Round client push consumer",
		FilterSubject: s.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    s.config.MaxDeliver,
		AckWait:       s.config.AckWait,
		MaxAckPending: s.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", s.config.ConsumerName).
		Str("stream", s.config.StreamName).
		Msg("JetStream consumer ready")

	s.consumer = consumer
	return nil
}

// Run consumes until ctx is done.
func (s *JetStreamSource) Run(ctx context.Context) error {
	log.Info().
		Str("consumer", s.config.ConsumerName).
		Str("stream", s.config.StreamName).
		Msg("starting JetStream push consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := s.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("push consumer shutting down")
			return nil
		case msg := <-messageCh:
			s.process(msg)
		}
	}
}

func (s *JetStreamSource) process(msg jetstream.Msg) {
	err := s.dispatcher.Dispatch(msg.Data())
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	case errors.Is(err, ErrMalformedEvent):
		// Redelivery cannot fix a bad payload.
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("terminating malformed message")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to TERM message")
		}
	default:
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error().Err(nakErr).Msg("failed to NAK message")
		}
	}
}

func (s *JetStreamSource) Close() error {
	log.Info().Msg("stopping push consumer")
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
