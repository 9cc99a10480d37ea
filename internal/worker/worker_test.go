package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/slavik/internal/bot"
	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
	"github.com/stupiduntilnot/slavik/internal/control"
	"github.com/stupiduntilnot/slavik/internal/db"
	"github.com/stupiduntilnot/slavik/internal/dummy"
	modelpkg "github.com/stupiduntilnot/slavik/internal/model"
	"github.com/stupiduntilnot/slavik/internal/persona"
	"github.com/stupiduntilnot/slavik/internal/sanitize"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDB(t.TempDir() + "/worker.db")
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func testSessions(t *testing.T, provider modelpkg.Provider) *bot.Sessions {
	t.Helper()
	pipeline, err := sanitize.Parse("markers,name_prefix", sanitize.DefaultMarkers)
	require.NoError(t, err)
	defaults := persona.Persona{Name: "Bot", Text: "You are Bot."}
	s, err := bot.NewSessions(bot.ScopeChat, defaults, func(_ int64, p persona.Persona) *bot.Bot {
		return bot.New(provider, bot.Config{Persona: p, Sanitizer: pipeline})
	})
	require.NoError(t, err)
	return s
}

func fastPolicy() control.Policy {
	return control.Policy{BreakerThreshold: 2, BreakerCooldown: time.Millisecond, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func countEvents(t *testing.T, database *sql.DB, eventType string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ?`, eventType).Scan(&n))
	return n
}

func inboxStatus(t *testing.T, database *sql.DB, updateID int64) string {
	t.Helper()
	var status string
	require.NoError(t, database.QueryRow(`SELECT status FROM inbox WHERE update_id = ?`, updateID).Scan(&status))
	return status
}

func TestRun_AccumulatesAndReplies(t *testing.T) {
	database := testDB(t)
	commander, err := dummy.NewCommander("as:alice:hi,as:alice:hey bot ping,close", "ok")
	require.NoError(t, err)
	provider, err := dummy.NewProvider("msg:Bot: pong")
	require.NoError(t, err)
	sessions := testSessions(t, provider)

	w := New(Options{
		Commander: commander,
		Sessions:  sessions,
		DB:        database,
		Journal:   &db.Journal{DB: database},
		Logger:    zaptest.NewLogger(t),
		Policy:    fastPolicy(),
		Sleep:     time.Millisecond,
	})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []dummy.Sent{{ChatID: 1, Text: "pong", ReplyTo: 2}}, commander.Sent())
	assert.Equal(t, 1, provider.Calls())

	history := sessions.Get(1).History()
	require.Len(t, history, 3)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "hey bot ping", history[1].Content)
	assert.Equal(t, "Bot", history[2].Sender)
	assert.Equal(t, "pong", history[2].Content)

	assert.Equal(t, 2, countEvents(t, database, db.EventMessageReceived))
	assert.Equal(t, 1, countEvents(t, database, db.EventReplySent))
	assert.Equal(t, db.StatusDone, inboxStatus(t, database, 2))
	assert.Equal(t, db.StatusDone, inboxStatus(t, database, 3))

	offset, err := db.DeriveOffset(database)
	require.NoError(t, err)
	assert.Equal(t, int64(4), offset)
}

func TestRun_DirectiveRepliesWithoutCompletion(t *testing.T) {
	commander, err := dummy.NewCommander("as:alice:hello,as:bob:/resetContext,close", "ok")
	require.NoError(t, err)
	provider, err := dummy.NewProvider("msg:Bot: never")
	require.NoError(t, err)
	sessions := testSessions(t, provider)

	w := New(Options{Commander: commander, Sessions: sessions, Sleep: time.Millisecond})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []dummy.Sent{{ChatID: 1, Text: bot.ReplyContextReset, ReplyTo: 2}}, commander.Sent())
	assert.Zero(t, provider.Calls())
	assert.Empty(t, sessions.Get(1).History())
}

func TestRun_SendFailureIsRecorded(t *testing.T) {
	database := testDB(t)
	commander, err := dummy.NewCommander("as:alice:bot?,close", "err:boom")
	require.NoError(t, err)
	provider, err := dummy.NewProvider("msg:Bot: yes")
	require.NoError(t, err)

	w := New(Options{
		Commander: commander,
		Sessions:  testSessions(t, provider),
		DB:        database,
		Journal:   &db.Journal{DB: database},
		Sleep:     time.Millisecond,
	})
	require.NoError(t, w.Run(context.Background()))

	assert.Empty(t, commander.Sent())
	assert.Equal(t, db.StatusFailed, inboxStatus(t, database, 2))
	assert.Equal(t, 1, countEvents(t, database, db.EventSendFailed))
}

func TestRun_PollFailuresTripBreaker(t *testing.T) {
	database := testDB(t)
	commander, err := dummy.NewCommander("err:x,err:x,ok,close", "ok")
	require.NoError(t, err)
	provider, err := dummy.NewProvider("ok")
	require.NoError(t, err)

	w := New(Options{
		Commander: commander,
		Sessions:  testSessions(t, provider),
		DB:        database,
		Journal:   &db.Journal{DB: database},
		Logger:    zaptest.NewLogger(t),
		Policy:    fastPolicy(),
		Sleep:     time.Millisecond,
	})
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, countEvents(t, database, db.EventCircuitOpened))
	assert.Equal(t, 1, countEvents(t, database, db.EventCircuitHalfOpen))
	assert.Equal(t, 1, countEvents(t, database, db.EventCircuitClosed))
	assert.Equal(t, control.CircuitClosed, w.breaker.State())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	commander, err := dummy.NewCommander("sleep:60000", "ok")
	require.NoError(t, err)
	provider, err := dummy.NewProvider("ok")
	require.NoError(t, err)

	w := New(Options{Commander: commander, Sessions: testSessions(t, provider)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// batchCommander returns one fixed batch, then ErrClosed.
type batchCommander struct {
	mu      sync.Mutex
	batches [][]cmdpkg.Update
	sent    map[int64][]int64
}

func (c *batchCommander) GetUpdates(context.Context, int64, int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil, cmdpkg.ErrClosed
	}
	batch := c.batches[0]
	c.batches = c.batches[1:]
	return batch, nil
}

func (c *batchCommander) SendMessage(_ context.Context, chatID int64, _ string, replyTo int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[chatID] = append(c.sent[chatID], replyTo)
	return nil
}

func textUpdate(updateID, chatID, messageID int64, sender, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: updateID,
		Message: &cmdpkg.Message{
			MessageID: messageID,
			From:      &cmdpkg.User{ID: 7, Username: sender},
			Chat:      cmdpkg.Chat{ID: chatID},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}
}

func TestDispatch_ChatsIndependentAndOrdered(t *testing.T) {
	var batch []cmdpkg.Update
	id := int64(100)
	for round := int64(1); round <= 3; round++ {
		for chat := int64(1); chat <= 4; chat++ {
			id++
			batch = append(batch, textUpdate(id, chat, round, "alice", fmt.Sprintf("bot round %d", round)))
		}
	}
	commander := &batchCommander{batches: [][]cmdpkg.Update{batch}, sent: map[int64][]int64{}}
	provider := modelpkg.ProviderFunc(func(context.Context, []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
		return modelpkg.CompletionResponse{Content: "Bot: ok"}, nil
	})
	sessions := testSessions(t, provider)

	w := New(Options{Commander: commander, Sessions: sessions, Concurrency: 3, Sleep: time.Millisecond})
	require.NoError(t, w.Run(context.Background()))

	for chat := int64(1); chat <= 4; chat++ {
		assert.Equal(t, []int64{1, 2, 3}, commander.sent[chat], "chat %d", chat)
		assert.Len(t, sessions.Get(chat).History(), 6)
	}
	assert.Equal(t, 4, sessions.Len())
}

func TestAccept_SkipsUnusableUpdates(t *testing.T) {
	database := testDB(t)
	w := New(Options{DB: database})
	empty := ""

	fromBot := textUpdate(1, 1, 1, "otherbot", "hi")
	fromBot.Message.From.IsBot = true
	noSender := textUpdate(2, 1, 2, "", "hi")
	noSender.Message.From = nil
	noText := textUpdate(3, 1, 3, "alice", "")
	noText.Message.Text = nil
	blank := textUpdate(4, 1, 4, "alice", "")
	blank.Message.Text = &empty
	firstNameOnly := textUpdate(5, 1, 5, "", "hi")
	firstNameOnly.Message.From.FirstName = "Alice"

	assert.False(t, w.accept(cmdpkg.Update{UpdateID: 9}))
	for _, u := range []cmdpkg.Update{fromBot, noSender, noText, blank} {
		assert.False(t, w.accept(u), "update %d", u.UpdateID)
		assert.Equal(t, db.StatusSkipped, inboxStatus(t, database, u.UpdateID))
	}
	assert.True(t, w.accept(firstNameOnly))
	assert.False(t, w.accept(firstNameOnly), "duplicate update")
}

func TestIsDirected(t *testing.T) {
	w := New(Options{TriggerNames: []string{"славик"}, BotUsername: "slavik_bot", BotUserID: 99})
	text := func(s string) *string { return &s }

	tests := []struct {
		name string
		msg  cmdpkg.Message
		want bool
	}{
		{"plain", cmdpkg.Message{Text: text("hello all")}, false},
		{"trigger name any case", cmdpkg.Message{Text: text("эй СЛАВИК, как дела")}, true},
		{"persona name", cmdpkg.Message{Text: text("hey Bot!")}, true},
		{"username tag", cmdpkg.Message{Text: text("@Slavik_Bot ping")}, true},
		{"reply by id", cmdpkg.Message{Text: text("yes"), ReplyToMessage: &cmdpkg.Message{From: &cmdpkg.User{ID: 99}}}, true},
		{"reply by username", cmdpkg.Message{Text: text("yes"), ReplyToMessage: &cmdpkg.Message{From: &cmdpkg.User{ID: 5, Username: "SLAVIK_BOT"}}}, true},
		{"reply to someone else", cmdpkg.Message{Text: text("yes"), ReplyToMessage: &cmdpkg.Message{From: &cmdpkg.User{ID: 5, Username: "alice"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.isDirected(&tt.msg, "Bot"))
		})
	}

	always := New(Options{AlwaysDirected: true})
	assert.True(t, always.isDirected(&cmdpkg.Message{Text: text("anything")}, "Bot"))
}

// stubCommander serves a single getUpdates response for bootstrapOffset.
type stubCommander struct {
	updates []cmdpkg.Update
}

func (s stubCommander) GetUpdates(context.Context, int64, int) ([]cmdpkg.Update, error) {
	return s.updates, nil
}

func (stubCommander) SendMessage(context.Context, int64, string, int64) error { return nil }

func TestBootstrapOffset(t *testing.T) {
	now := time.Unix(10_000, 0)
	at := func(id, date int64) cmdpkg.Update {
		return cmdpkg.Update{UpdateID: id, Message: &cmdpkg.Message{Date: date}}
	}
	tests := []struct {
		name    string
		updates []cmdpkg.Update
		want    int64
	}{
		{"nothing pending", nil, 0},
		{"all stale", []cmdpkg.Update{at(1, 100), at(2, 200)}, 3},
		{"keeps window", []cmdpkg.Update{at(1, 100), at(2, 9_500), at(3, 9_900)}, 2},
		{"caps count", []cmdpkg.Update{at(1, 9_500), at(2, 9_600), at(3, 9_700), at(4, 9_800)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(Options{
				Commander:            stubCommander{updates: tt.updates},
				PendingWindowSeconds: 600,
				PendingMaxMessages:   2,
			})
			w.now = func() time.Time { return now }
			got, err := w.bootstrapOffset(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
