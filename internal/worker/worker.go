// Package worker polls a commander, routes messages to per-chat bots and
// delivers their replies.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/slavik/internal/bot"
	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
	"github.com/stupiduntilnot/slavik/internal/control"
	"github.com/stupiduntilnot/slavik/internal/db"
)

// Options configures a Worker.
type Options struct {
	Commander cmdpkg.Commander
	Sessions  *bot.Sessions
	// DB backs the inbox; nil disables offset persistence.
	DB      *sql.DB
	Journal *db.Journal
	Logger  *zap.Logger
	Policy  control.Policy

	PollTimeout int
	Sleep       time.Duration

	// DropPending trims the backlog with an extra poll before the first
	// offset is known. Only for commanders with a server-side queue.
	DropPending          bool
	PendingWindowSeconds int64
	PendingMaxMessages   int

	Concurrency int

	// TriggerNames are matched case-insensitively anywhere in the text.
	TriggerNames []string
	BotUsername  string
	BotUserID    int64
	// AlwaysDirected treats every message as addressed to the bot.
	AlwaysDirected bool
}

// Worker is the polling loop.
type Worker struct {
	opts     Options
	breaker  *control.CircuitBreaker
	offset   int64
	failures int
	now      func() time.Time
}

// New creates a Worker.
func New(opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy == (control.Policy{}) {
		opts.Policy = control.DefaultPolicy()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Sleep <= 0 {
		opts.Sleep = time.Second
	}
	return &Worker{
		opts:    opts,
		breaker: control.NewCircuitBreaker(opts.Policy.BreakerThreshold, opts.Policy.BreakerCooldown),
		now:     time.Now,
	}
}

// Run polls until ctx is done or the commander reports commander.ErrClosed.
func (w *Worker) Run(ctx context.Context) error {
	log := w.opts.Logger

	if w.opts.DB != nil {
		offset, err := db.DeriveOffset(w.opts.DB)
		if err != nil {
			return err
		}
		w.offset = offset
	}
	if w.offset == 0 && w.opts.DropPending {
		offset, err := w.bootstrapOffset(ctx)
		if err != nil {
			log.Warn("bootstrap offset failed", zap.Error(err))
		} else if offset > 0 {
			w.offset = offset
			w.opts.Journal.Record(db.EventPendingDropped, map[string]any{"offset": offset})
			log.Info("pending updates trimmed", zap.Int64("offset", offset))
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		allowed, halfOpened := w.breaker.Allow(w.now())
		if !allowed {
			w.sleep(ctx, w.opts.Sleep)
			continue
		}
		if halfOpened {
			w.opts.Journal.Record(db.EventCircuitHalfOpen, map[string]any{"error_class": w.breaker.OpenedClass()})
			log.Info("circuit half-open", zap.String("error_class", w.breaker.OpenedClass()))
		}

		updates, err := w.opts.Commander.GetUpdates(ctx, w.offset, w.opts.PollTimeout)
		if errors.Is(err, cmdpkg.ErrClosed) {
			log.Info("commander closed")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.pollFailed(ctx, err)
			continue
		}
		w.failures = 0
		if w.breaker.RecordSuccess() {
			w.opts.Journal.Record(db.EventCircuitClosed, map[string]any{"recovered": true})
			log.Info("circuit closed")
		}

		if len(updates) == 0 {
			w.sleep(ctx, w.opts.Sleep)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= w.offset {
				w.offset = u.UpdateID + 1
			}
		}
		w.dispatch(ctx, updates)
	}
}

func (w *Worker) pollFailed(ctx context.Context, err error) {
	w.failures++
	wait := w.opts.Policy.Backoff(w.failures)
	w.opts.Logger.Warn("getUpdates failed",
		zap.Error(err),
		zap.Int("consecutive_failures", w.failures),
		zap.Duration("backoff", wait),
	)
	if w.breaker.RecordFailure(control.ClassPoll, w.now()) {
		w.opts.Journal.Record(db.EventCircuitOpened, map[string]any{
			"error_class":      control.ClassPoll,
			"threshold":        w.breaker.Threshold,
			"cooldown_seconds": int(w.breaker.Cooldown.Seconds()),
		})
		w.opts.Logger.Warn("circuit opened", zap.String("error_class", control.ClassPoll))
	}
	w.sleep(ctx, wait)
}

// dispatch handles one poll batch. Chats run concurrently up to
// Concurrency; messages of one chat keep their order.
func (w *Worker) dispatch(ctx context.Context, updates []cmdpkg.Update) {
	var order []int64
	byChat := map[int64][]inbound{}
	for _, u := range updates {
		if !w.accept(u) {
			continue
		}
		chatID := u.Message.Chat.ID
		if _, seen := byChat[chatID]; !seen {
			order = append(order, chatID)
		}
		byChat[chatID] = append(byChat[chatID], inbound{updateID: u.UpdateID, msg: u.Message})
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for _, chatID := range order {
		msgs := byChat[chatID]
		g.Go(func() error {
			for _, in := range msgs {
				w.handle(ctx, in)
			}
			return nil
		})
	}
	_ = g.Wait()
}

type inbound struct {
	updateID int64
	msg      *cmdpkg.Message
}

// accept records u in the inbox and reports whether it should be handled.
func (w *Worker) accept(u cmdpkg.Update) bool {
	msg := u.Message
	if msg == nil {
		return false
	}
	if w.opts.DB != nil {
		fresh, err := db.RecordUpdate(w.opts.DB, u.UpdateID, msg.Chat.ID, msg.Date)
		if err != nil {
			w.opts.Logger.Warn("inbox record failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
		} else if !fresh {
			return false
		}
	}
	if reason := skipReason(msg); reason != "" {
		w.mark(u.UpdateID, db.StatusSkipped, reason)
		w.opts.Logger.Debug("update skipped", zap.Int64("update_id", u.UpdateID), zap.String("reason", reason))
		return false
	}
	return true
}

func skipReason(msg *cmdpkg.Message) string {
	switch {
	case msg.Text == nil || strings.TrimSpace(*msg.Text) == "":
		return "no text"
	case msg.From == nil || msg.SenderName() == "":
		return "no sender"
	case msg.From.IsBot:
		return "from bot"
	default:
		return ""
	}
}

func (w *Worker) handle(ctx context.Context, in inbound) {
	msg := in.msg
	chatID := msg.Chat.ID
	sender := msg.SenderName()
	b := w.opts.Sessions.Get(chatID)
	directed := w.isDirected(msg, b.Persona().Name)

	log := w.opts.Logger.With(
		zap.Int64("chat_id", chatID),
		zap.Int64("update_id", in.updateID),
		zap.String("sender", sender),
		zap.Bool("directed", directed),
	)
	journal := w.opts.Journal.Child(db.EventMessageReceived, map[string]any{
		"chat_id":    chatID,
		"update_id":  in.updateID,
		"message_id": msg.MessageID,
		"sender":     sender,
		"directed":   directed,
	})

	updateID := in.updateID
	switch r := b.Process(ctx, sender, *msg.Text, directed).(type) {
	case bot.Reply:
		if err := w.opts.Commander.SendMessage(ctx, chatID, r.Text, msg.MessageID); err != nil {
			log.Warn("send failed", zap.Error(err))
			journal.Record(db.EventSendFailed, map[string]any{"error": err.Error()})
			w.mark(updateID, db.StatusFailed, err.Error())
			return
		}
		log.Debug("reply sent")
		journal.Record(db.EventReplySent, map[string]any{"reply_to": msg.MessageID})
		w.mark(updateID, db.StatusDone, "")
	case bot.Empty:
		w.mark(updateID, db.StatusDone, "")
	}
}

// isDirected reports whether msg addresses the bot currently named
// personaName.
func (w *Worker) isDirected(msg *cmdpkg.Message, personaName string) bool {
	if w.opts.AlwaysDirected {
		return true
	}
	if w.isOwnMessage(msg.ReplyToMessage) {
		return true
	}
	text := strings.ToLower(*msg.Text)
	if w.opts.BotUsername != "" && strings.Contains(text, "@"+strings.ToLower(w.opts.BotUsername)) {
		return true
	}
	if personaName != "" && strings.Contains(text, strings.ToLower(personaName)) {
		return true
	}
	for _, name := range w.opts.TriggerNames {
		if name != "" && strings.Contains(text, strings.ToLower(name)) {
			return true
		}
	}
	return false
}

func (w *Worker) isOwnMessage(msg *cmdpkg.Message) bool {
	if msg == nil || msg.From == nil {
		return false
	}
	if w.opts.BotUserID != 0 && msg.From.ID == w.opts.BotUserID {
		return true
	}
	return w.opts.BotUsername != "" && strings.EqualFold(msg.From.Username, w.opts.BotUsername)
}

func (w *Worker) mark(updateID int64, status, errMsg string) {
	if w.opts.DB == nil {
		return
	}
	if err := db.MarkUpdate(w.opts.DB, updateID, status, errMsg); err != nil {
		w.opts.Logger.Warn("inbox update failed", zap.Int64("update_id", updateID), zap.Error(err))
	}
}

// bootstrapOffset skips updates older than the pending window and keeps at
// most PendingMaxMessages of the rest.
func (w *Worker) bootstrapOffset(ctx context.Context) (int64, error) {
	updates, err := w.opts.Commander.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := w.now().Unix() - w.opts.PendingWindowSeconds

	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}

	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}

	if w.opts.PendingMaxMessages > 0 && len(inWindow) > w.opts.PendingMaxMessages {
		inWindow = inWindow[len(inWindow)-w.opts.PendingMaxMessages:]
	}

	return inWindow[0].UpdateID, nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
