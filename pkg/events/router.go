package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TopicEngine carries every engine event; subscribers filter by type.
const TopicEngine = "prattle.engine"

// WatermillZerologAdapter routes watermill's logging through zerolog.
// Watermill's INFO level is mapped down to debug because it is chatty.
type WatermillZerologAdapter struct {
	logger zerolog.Logger
}

func (w *WatermillZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

func (w *WatermillZerologAdapter) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *WatermillZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	l := w.logger.With().Fields(map[string]interface{}(fields)).Logger()
	return &WatermillZerologAdapter{logger: l}
}

var _ watermill.LoggerAdapter = (*WatermillZerologAdapter)(nil)

// EventRouter is the in-process pubsub seam between the engine and the UI
// layer. Events are JSON payloads on a gochannel pubsub.
type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose() EventRouterOption {
	return func(r *EventRouter) {
		r.logger = &WatermillZerologAdapter{logger: log.Logger}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, ret.logger)
	ret.Publisher = pubSub
	ret.Subscriber = pubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// Publish serializes the event onto the engine topic.
func (e *EventRouter) Publish(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	return e.Publisher.Publish(TopicEngine, msg)
}

// AddHandler registers a subscriber on the engine topic. Payloads that do
// not decode are logged and acked so one bad message cannot wedge the
// handler.
func (e *EventRouter) AddHandler(name string, f func(ctx context.Context, ev Event) error) {
	e.router.AddNoPublisherHandler(name, TopicEngine, e.Subscriber, func(msg *message.Message) error {
		ev, err := NewEventFromJSON(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("failed to parse engine event")
			return nil
		}
		return f(msg.Context(), ev)
	})
}

// Run blocks until ctx is cancelled.
func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("closing event publisher")
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close publisher")
	}
	return e.router.Close()
}
