package cmds

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/chat"
	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/engine"
	"github.com/go-go-golems/prattle/pkg/events"
	"github.com/go-go-golems/prattle/pkg/quota"
	"github.com/go-go-golems/prattle/pkg/settings"
	"github.com/go-go-golems/prattle/pkg/store"
)

// app holds the wired engine and its collaborators for one CLI invocation.
type app struct {
	settings *settings.Settings
	store    conversation.Store
	engine   *engine.Engine
	router   *events.EventRouter

	cancelRouter context.CancelFunc
}

func newApp(configFile string) (*app, error) {
	cfg, err := settings.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	router, err := events.NewEventRouter()
	if err != nil {
		return nil, errors.Wrap(err, "create event router")
	}

	var backend conversation.Backend
	if cfg.DatabasePath != "" {
		backend, err = store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
	} else {
		backend = store.NewMemory()
	}

	st, err := conversation.NewStore(backend, conversation.WithChangeHook(func(version uint64) {
		if perr := router.Publish(events.NewStoreChangedEvent(version)); perr != nil {
			log.Warn().Err(perr).Msg("failed to publish store change")
		}
	}))
	if err != nil {
		return nil, err
	}

	gate := quota.NewGate(
		quota.EntitlementFunc(func() bool { return cfg.Unlimited }),
		st,
		quota.WithThreshold(cfg.FreeMessages),
		quota.WithDeniedHook(func(userMessages, threshold int) {
			if perr := router.Publish(events.NewQuotaDeniedEvent(userMessages, threshold)); perr != nil {
				log.Warn().Err(perr).Msg("failed to publish quota denial")
			}
		}),
	)

	client := chat.NewHTTPClient(cfg.BaseURL, cfg.APIKey, chat.WithTimeout(cfg.RequestTimeout))
	builder := chat.NewBuilder(cfg.Model)
	eng := engine.New(st, builder, client, gate, engine.WithPublisher(router))

	return &app{
		settings: cfg,
		store:    st,
		engine:   eng,
		router:   router,
	}, nil
}

// Start runs the event router. Handlers must be registered before calling
// it.
func (a *app) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelRouter = cancel
	go func() {
		if err := a.router.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	<-a.router.Running()
}

func (a *app) Close() {
	if a.cancelRouter != nil {
		a.cancelRouter()
	}
	if err := a.router.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event router")
	}
}
