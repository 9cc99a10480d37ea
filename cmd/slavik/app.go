package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/slavik/internal/bot"
	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
	"github.com/stupiduntilnot/slavik/internal/config"
	"github.com/stupiduntilnot/slavik/internal/console"
	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
	"github.com/stupiduntilnot/slavik/internal/control"
	"github.com/stupiduntilnot/slavik/internal/db"
	"github.com/stupiduntilnot/slavik/internal/dummy"
	"github.com/stupiduntilnot/slavik/internal/gemini"
	modelpkg "github.com/stupiduntilnot/slavik/internal/model"
	"github.com/stupiduntilnot/slavik/internal/openai"
	"github.com/stupiduntilnot/slavik/internal/persona"
	"github.com/stupiduntilnot/slavik/internal/sanitize"
	"github.com/stupiduntilnot/slavik/internal/telegram"
	"github.com/stupiduntilnot/slavik/internal/telemetry"
	"github.com/stupiduntilnot/slavik/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// run serves commander until ctx is done or the commander closes.
func run(ctx context.Context, cfg config.WorkerConfig, logger *zap.Logger, commander cmdpkg.Commander) error {
	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.TelemetryEnabled
	tcfg.Endpoint = cfg.TelemetryEndpoint
	tcfg.Version = version
	if err := telemetry.Init(ctx, tcfg); err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	journal := &db.Journal{DB: database}
	rootID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"pid":       os.Getpid(),
		"version":   version,
		"transport": cfg.Transport,
		"provider":  cfg.ModelProvider,
		"persona":   cfg.Persona.Name,
		"scope":     cfg.ContextScope,
	})
	if err != nil {
		logger.Warn("failed to log process.started", zap.Error(err))
	} else {
		journal.ParentID = &rootID
	}

	provider, err := newModelProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init model provider: %w", err)
	}
	provider = modelpkg.WithRetry(provider, cfg.CompletionRetries+1, logger)

	sessions, err := newSessions(cfg, provider, logger, journal)
	if err != nil {
		return err
	}

	botUsername, botUserID := cfg.BotUsername, int64(0)
	if botUsername == "" {
		if id, ok := commander.(cmdpkg.Identifier); ok {
			me, err := id.Me(ctx)
			if err != nil {
				logger.Warn("getMe failed, @username trigger disabled", zap.Error(err))
			} else {
				botUsername, botUserID = me.Username, me.ID
			}
		}
	}

	w := worker.New(worker.Options{
		Commander:            commander,
		Sessions:             sessions,
		DB:                   database,
		Journal:              journal,
		Logger:               logger,
		Policy:               control.DefaultPolicy(),
		PollTimeout:          cfg.Timeout,
		Sleep:                time.Duration(cfg.SleepSeconds) * time.Second,
		DropPending:          dropPending(cfg),
		PendingWindowSeconds: cfg.PendingWindowSeconds,
		PendingMaxMessages:   cfg.PendingMaxMessages,
		Concurrency:          cfg.Concurrency,
		TriggerNames:         cfg.TriggerNames,
		BotUsername:          botUsername,
		BotUserID:            botUserID,
		AlwaysDirected:       cfg.Transport == config.TransportConsole,
	})

	logger.Info("slavik started",
		zap.String("transport", cfg.Transport),
		zap.String("provider", cfg.ModelProvider),
		zap.String("persona", cfg.Persona.Name),
		zap.String("bot_username", botUsername),
		zap.String("scope", cfg.ContextScope),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return w.Run(gctx)
	})
	if cfg.PersonaWatch && cfg.PersonaFile != "" {
		watcher, err := persona.NewWatcher(cfg.PersonaFile, func(p persona.Persona) {
			sessions.SetDefaults(p)
			journal.Record(db.EventPersonaReloaded, map[string]any{"name": p.Name, "file": cfg.PersonaFile})
			logger.Info("persona reloaded", zap.String("name", p.Name))
		}, logger)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}
	err = g.Wait()

	journal.Record(db.EventProcessStopped, map[string]any{"sessions": sessions.Len()})
	logger.Info("slavik stopped", zap.Int("sessions", sessions.Len()))
	return err
}

// dropPending reports whether stale updates are skipped at first start.
// Only Telegram keeps a server-side backlog; for local transports the
// bootstrap poll would consume a real message.
func dropPending(cfg config.WorkerConfig) bool {
	return cfg.DropPending && cfg.Transport == config.TransportTelegram
}

// newSessions builds the session table. Every bot journals under the
// process root with its chat ID attached.
func newSessions(cfg config.WorkerConfig, provider modelpkg.Provider, logger *zap.Logger, journal *db.Journal) (*bot.Sessions, error) {
	assembler, err := ctxpkg.NewAssembler(cfg.PromptScheme)
	if err != nil {
		return nil, err
	}
	pipeline, err := sanitize.Parse(cfg.Sanitizers, cfg.Markers)
	if err != nil {
		return nil, err
	}
	return bot.NewSessions(cfg.ContextScope, cfg.Persona, func(chatID int64, defaults persona.Persona) *bot.Bot {
		return bot.New(provider, bot.Config{
			Persona:    defaults,
			MaxSymbols: cfg.MaxSymbols,
			Assembler:  assembler,
			Sanitizer:  pipeline,
		},
			bot.WithLogger(logger.With(zap.Int64("chat_id", chatID))),
			bot.WithJournal(journal.With(map[string]any{"chat_id": chatID})),
		)
	})
}

func newCommander(cfg config.WorkerConfig, con console.Config) (cmdpkg.Commander, error) {
	switch cfg.Transport {
	case config.TransportTelegram:
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case config.TransportConsole:
		return console.New(con)
	case config.TransportDummy:
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

func newModelProvider(ctx context.Context, cfg config.WorkerConfig) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatCompURL, cfg.OpenAIModel, cfg.OpenAITemperature, cfg.CompletionTimeout), nil
	case config.ProviderGemini:
		return gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.OpenAITemperature, cfg.CompletionTimeout)
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
