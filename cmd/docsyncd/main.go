// Command docsyncd runs the document-state synchronization server as a
// standalone process: load configuration, wire the storage/auth/event
// backends it selects, and serve until a shutdown signal arrives.
// Grounded on the teacher's cmd/main.go load-config-then-construct-
// server shape, adapted from flag/JSON config to the env-driven
// internal/config loader.
//
// The document hooks wired here are intentionally minimal: onCreate
// seeds an empty object and nothing mutates state server-side. Per-
// document business logic (reacting to onMessage, driving onUpdate)
// is the concern of whatever application embeds pkg/server — out of
// scope for this reference binary, same as the chat/game application
// code this project's teacher ships alongside its own library.
package main

import (
	"context"

	"github.com/docsync/docsync/internal/auth"
	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/eventbus"
	"github.com/docsync/docsync/internal/logging"
	"github.com/docsync/docsync/pkg/document"
	"github.com/docsync/docsync/pkg/persistence"
	"github.com/docsync/docsync/pkg/server"
	"github.com/docsync/docsync/pkg/value"
)

func main() {
	bootstrapLog := logging.New("info", "json")

	cfg, err := config.Load(&bootstrapLog)
	if err != nil {
		bootstrapLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(log)

	store, err := openStore(cfg.BoltPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence store")
	}

	bus, err := eventbus.Connect(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event bus")
	}
	defer bus.Close()

	authHook := authHookFor(cfg)

	hooks := server.Hooks{
		Document: document.Hooks{
			OnCreate: func(name string) value.Value {
				return value.ObjectValue(value.NewObject())
			},
		},
	}

	srv := server.New(cfg, hooks, store, authHook, bus, log)

	if err := srv.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func openStore(boltPath string) (persistence.Store, error) {
	if boltPath == "" {
		return persistence.NewMemoryStore(), nil
	}
	return persistence.OpenBoltStore(boltPath)
}

func authHookFor(cfg *config.Config) auth.Hook {
	if cfg.RequireAuth {
		return auth.NewJWTHook(cfg.JWTSecret)
	}
	return auth.NoopHook{}
}
