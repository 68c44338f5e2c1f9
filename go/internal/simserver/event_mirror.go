package simserver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/roundclient/go/internal/push"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Publisher mirrors push events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event push.EventType, msgID string, data any) error
	Close() error
}

// MirrorConfig describes where round events are mirrored. Events land on
// <SubjectPrefix>.<event type> inside Stream.
type MirrorConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	// KeepFor bounds how long the stream keeps events; clients replaying a
	// reload only need the last few rounds.
	KeepFor time.Duration
	// DedupWindow must cover a settlement retry so a re-emitted
	// round_finished with the same id is dropped.
	DedupWindow time.Duration
}

func DefaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		URL:           nats.DefaultURL,
		Stream:        "ROUND_EVENTS",
		SubjectPrefix: "rounds.events",
		KeepFor:       time.Hour,
		DedupWindow:   2 * time.Minute,
	}
}

func (c MirrorConfig) subject(event push.EventType) string {
	return c.SubjectPrefix + "." + string(event)
}

func (c MirrorConfig) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        c.Stream,
		Description: "Simulated round events",
		Subjects:    []string{c.SubjectPrefix + ".>"},
		MaxAge:      c.KeepFor,
		Duplicates:  c.DedupWindow,
		Storage:     jetstream.MemoryStorage,
	}
}

// EventMirror copies every event the simulator pushes to its websocket
// clients onto a JetStream stream, where push.JetStreamSource consumes it.
type EventMirror struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config MirrorConfig
}

var _ Publisher = (*EventMirror)(nil)

func NewEventMirror(ctx context.Context, cfg MirrorConfig) (*EventMirror, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("round-simulator"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("stream", cfg.Stream).Msg("event mirror lost its broker connection")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("event mirror reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect event mirror: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, cfg.streamConfig()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare stream %s: %w", cfg.Stream, err)
	}
	log.Info().Str("stream", cfg.Stream).Str("subjects", cfg.SubjectPrefix+".>").Msg("mirroring round events")

	return &EventMirror{conn: conn, js: js, config: cfg}, nil
}

// Publish mirrors one event frame. A fixed msgID lets the stream drop the
// copy a retried settlement emits; an empty one gets a fresh id.
func (m *EventMirror) Publish(ctx context.Context, event push.EventType, msgID string, data any) error {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	frame, err := push.Encode(event, data)
	if err != nil {
		return err
	}

	ack, err := m.js.Publish(ctx, m.config.subject(event), frame, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("mirror %s: %w", event, err)
	}
	if ack.Duplicate {
		log.Debug().Str("event", string(event)).Str("msg_id", msgID).Msg("event already mirrored")
		return nil
	}

	log.Debug().
		Str("event", string(event)).
		Str("msg_id", msgID).
		Uint64("seq", ack.Sequence).
		Msg("mirrored event")
	return nil
}

// Close flushes pending events before closing the connection.
func (m *EventMirror) Close() error {
	return m.conn.Drain()
}
