package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
	"github.com/stupiduntilnot/slavik/internal/config"
	"github.com/stupiduntilnot/slavik/internal/console"
	"github.com/stupiduntilnot/slavik/internal/db"
	"github.com/stupiduntilnot/slavik/internal/dummy"
	"github.com/stupiduntilnot/slavik/internal/openai"
	"github.com/stupiduntilnot/slavik/internal/persona"
	"github.com/stupiduntilnot/slavik/internal/sanitize"
	"github.com/stupiduntilnot/slavik/internal/telegram"
)

func testConfig(t *testing.T) config.WorkerConfig {
	t.Helper()
	return config.WorkerConfig{
		Transport:           config.TransportDummy,
		ModelProvider:       config.ProviderDummy,
		DummyProviderScript: "msg:Bot: pong",
		SleepSeconds:        1,
		DBPath:              t.TempDir() + "/slavik.db",
		Persona:             persona.Persona{Name: "Bot", Text: "You are Bot."},
		MaxSymbols:          2000,
		TriggerNames:        []string{"bot"},
		PromptScheme:        "per_turn",
		Sanitizers:          "markers,name_prefix",
		Markers:             sanitize.DefaultMarkers,
		ContextScope:        "chat",
		Concurrency:         2,
		CompletionTimeout:   time.Second,
	}
}

func eventTypes(t *testing.T, path string) []string {
	t.Helper()
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	defer database.Close()

	rows, err := database.Query(`SELECT event_type FROM events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var types []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		types = append(types, et)
	}
	require.NoError(t, rows.Err())
	return types
}

func TestRun_RepliesAndJournals(t *testing.T) {
	cfg := testConfig(t)
	commander, err := dummy.NewCommander("msg:hi bot,close", "ok")
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), cfg, zaptest.NewLogger(t), commander))

	sent := commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].ChatID)
	assert.Equal(t, "pong", sent[0].Text)

	assert.Equal(t, []string{
		db.EventProcessStarted,
		db.EventMessageReceived,
		db.EventReplySent,
		db.EventProcessStopped,
	}, eventTypes(t, cfg.DBPath))
}

func TestRun_DropPendingKeepsLocalMessages(t *testing.T) {
	cfg := testConfig(t)
	cfg.DropPending = true
	commander, err := dummy.NewCommander("msg:hi bot,close", "ok")
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), cfg, zaptest.NewLogger(t), commander))

	sent := commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "pong", sent[0].Text)
	assert.NotContains(t, eventTypes(t, cfg.DBPath), db.EventPendingDropped)
}

func TestDropPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.DropPending = true
	for transport, want := range map[string]bool{
		config.TransportTelegram: true,
		config.TransportConsole:  false,
		config.TransportDummy:    false,
	} {
		cfg.Transport = transport
		assert.Equal(t, want, dropPending(cfg), transport)
	}
	cfg.Transport = config.TransportTelegram
	cfg.DropPending = false
	assert.False(t, dropPending(cfg))
}

type identifiedCommander struct {
	*dummy.Commander
}

func (identifiedCommander) Me(context.Context) (cmdpkg.User, error) {
	return cmdpkg.User{ID: 99, IsBot: true, Username: "slavik_bot"}, nil
}

func TestRun_UsernameFromIdentity(t *testing.T) {
	cfg := testConfig(t)
	cfg.TriggerNames = nil
	cfg.Persona = persona.Persona{Name: "Slavik", Text: "You are Slavik."}
	cfg.DummyProviderScript = "msg:Slavik: hello"
	inner, err := dummy.NewCommander("msg:hello there,msg:hey @slavik_bot,close", "ok")
	require.NoError(t, err)

	require.NoError(t, run(context.Background(), cfg, zaptest.NewLogger(t), identifiedCommander{inner}))

	sent := inner.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "hello", sent[0].Text)
	assert.Equal(t, int64(2), sent[0].ReplyTo)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	commander, err := dummy.NewCommander("ok", "ok")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t), commander) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	types := eventTypes(t, cfg.DBPath)
	assert.Equal(t, db.EventProcessStopped, types[len(types)-1])
}

func TestNewCommander(t *testing.T) {
	cfg := testConfig(t)

	cfg.Transport = config.TransportTelegram
	cfg.TelegramAPIBase = "http://127.0.0.1:1/bottest"
	c, err := newCommander(cfg, console.Config{})
	require.NoError(t, err)
	assert.IsType(t, &telegram.Client{}, c)

	cfg.Transport = config.TransportDummy
	c, err = newCommander(cfg, console.Config{})
	require.NoError(t, err)
	assert.IsType(t, &dummy.Commander{}, c)

	cfg.Transport = "carrier-pigeon"
	_, err = newCommander(cfg, console.Config{})
	assert.Error(t, err)
}

func TestNewModelProvider(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	cfg.ModelProvider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = "test-key"
	p, err := newModelProvider(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, p)

	cfg.ModelProvider = config.ProviderDummy
	p, err = newModelProvider(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &dummy.Provider{}, p)

	cfg.ModelProvider = "oracle"
	_, err = newModelProvider(ctx, cfg)
	assert.Error(t, err)
}

func TestNewSessions(t *testing.T) {
	cfg := testConfig(t)
	provider, err := dummy.NewProvider("ok")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	s, err := newSessions(cfg, provider, logger, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bot", s.Get(7).Persona().Name)

	cfg.ContextScope = "global"
	s, err = newSessions(cfg, provider, logger, nil)
	require.NoError(t, err)
	assert.Same(t, s.Get(1), s.Get(2))

	cfg.PromptScheme = "haiku"
	_, err = newSessions(cfg, provider, logger, nil)
	assert.Error(t, err)
}
