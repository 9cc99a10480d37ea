// Package bot accumulates chat history under a character budget, frames it
// with a persona, and turns completions into replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
	"github.com/stupiduntilnot/slavik/internal/db"
	modelpkg "github.com/stupiduntilnot/slavik/internal/model"
	"github.com/stupiduntilnot/slavik/internal/persona"
	"github.com/stupiduntilnot/slavik/internal/sanitize"
	"github.com/stupiduntilnot/slavik/internal/telemetry"
)

var errEmptyCompletion = errors.New("empty completion")

// Journal receives structured events about processed messages.
type Journal interface {
	Record(eventType string, payload map[string]any)
}

type nopJournal struct{}

func (nopJournal) Record(string, map[string]any) {}

// Config configures a Bot.
type Config struct {
	Persona    persona.Persona
	MaxSymbols int
	Assembler  ctxpkg.Assembler
	Sanitizer  sanitize.Pipeline
}

// Option customizes a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithJournal sets the event journal.
func WithJournal(j Journal) Option {
	return func(b *Bot) { b.journal = j }
}

// Bot owns one context buffer and one persona. All access to them goes
// through mu, which is never held across a completion call.
type Bot struct {
	mu       sync.Mutex
	buffer   *ctxpkg.Buffer
	persona  persona.Persona
	defaults persona.Persona

	provider  modelpkg.Provider
	assembler ctxpkg.Assembler
	sanitizer sanitize.Pipeline
	logger    *zap.Logger
	journal   Journal
}

// New creates a Bot with an empty buffer and cfg.Persona as both the
// current and the default persona.
func New(provider modelpkg.Provider, cfg Config, opts ...Option) *Bot {
	if cfg.Persona.Name == "" {
		cfg.Persona = persona.Default()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = &ctxpkg.StandardAssembler{}
	}
	b := &Bot{
		buffer:    ctxpkg.NewBuffer(cfg.MaxSymbols),
		persona:   cfg.Persona,
		defaults:  cfg.Persona,
		provider:  provider,
		assembler: cfg.Assembler,
		sanitizer: cfg.Sanitizer,
		logger:    zap.NewNop(),
		journal:   nopJournal{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process handles one inbound message. directed reports whether the
// message addresses the bot; only directed messages trigger a completion.
// Process never fails: errors end in Empty.
func (b *Bot) Process(ctx context.Context, sender, text string, directed bool) Result {
	requestID := uuid.NewString()
	log := b.logger.With(zap.String("request_id", requestID), zap.String("sender", sender))

	if d := parseDirective(text); d.kind != directiveNone {
		return b.applyDirective(d, requestID, log)
	}

	b.mu.Lock()
	evicted := b.buffer.Append(ctxpkg.UserMessage(sender, text))
	if !directed {
		b.mu.Unlock()
		log.Debug("message accumulated", zap.Int("evicted", evicted))
		return Empty{}
	}
	p := b.persona
	history := b.buffer.Snapshot()
	b.mu.Unlock()

	return b.complete(ctx, requestID, p, history, log)
}

func (b *Bot) applyDirective(d directive, requestID string, log *zap.Logger) Result {
	payload := map[string]any{"request_id": requestID, "directive": d.kind.String()}
	log = log.With(zap.Stringer("directive", d.kind))

	var reply string
	b.mu.Lock()
	switch d.kind {
	case directiveResetSystem:
		b.buffer.Reset()
		b.persona = b.defaults
		reply = ReplySystemReset
	case directiveResetContext:
		b.buffer.Reset()
		reply = ReplyContextReset
	case directiveSetSystem:
		if !d.valid {
			reply = ReplyInvalidSet
			break
		}
		b.persona = persona.Persona{Name: d.name, Text: d.persona}
		payload["name"] = d.name
		reply = ReplySystemSet
	}
	b.mu.Unlock()

	payload["valid"] = d.valid
	b.journal.Record(db.EventDirectiveApplied, payload)
	log.Info("directive handled", zap.Bool("valid", d.valid))
	return Reply{Text: reply}
}

func (b *Bot) complete(ctx context.Context, requestID string, p persona.Persona, history []ctxpkg.Message, log *zap.Logger) (result Result) {
	messages := b.assembler.Assemble(p.Name, p.Text, history)

	// In-flight completions run to the end even if the caller goes away.
	ctx, span := telemetry.StartCompletionSpan(context.WithoutCancel(ctx), p.Name, len(messages))
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("completion panic: %v", r)
			span.SetError(err)
			span.SetOutcome("failed")
			span.End()
			log.Error("completion panicked", zap.Error(err))
			b.journal.Record(db.EventCompletionFailed, map[string]any{"request_id": requestID, "error": err.Error()})
			result = Empty{}
		}
	}()

	resp, err := b.provider.ChatCompletion(ctx, messages)
	span.SetTokens(resp.InputTokens, resp.OutputTokens)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		span.SetError(err)
		span.SetOutcome("failed")
		latency := span.End()
		log.Warn("completion failed", zap.Error(err), zap.Int64("latency_ms", latency.Milliseconds()))
		b.journal.Record(db.EventCompletionFailed, map[string]any{
			"request_id": requestID,
			"error":      truncate(err.Error(), 400),
			"latency_ms": latency.Milliseconds(),
		})
		return Empty{}
	}

	text, ok := b.sanitizer.Apply(p.Name, resp.Content)
	if !ok {
		span.SetOutcome("rejected")
		latency := span.End()
		log.Info("completion rejected by sanitizer", zap.String("raw", truncate(resp.Content, 200)))
		b.journal.Record(db.EventReplyRejected, map[string]any{
			"request_id": requestID,
			"raw":        truncate(resp.Content, 400),
			"latency_ms": latency.Milliseconds(),
		})
		return Empty{}
	}

	b.mu.Lock()
	b.buffer.Append(ctxpkg.BotMessage(p.Name, text))
	b.mu.Unlock()

	span.SetOutcome("replied")
	latency := span.End()
	log.Info("completion replied",
		zap.Int64("latency_ms", latency.Milliseconds()),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
	)
	return Reply{Text: text}
}

// Persona returns the active persona.
func (b *Bot) Persona() persona.Persona {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persona
}

// SetDefaults replaces the persona restored by /resetSystem. A bot still
// running on the previous defaults switches to the new ones immediately.
func (b *Bot) SetDefaults(p persona.Persona) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.persona == b.defaults {
		b.persona = p
	}
	b.defaults = p
}

// History returns a copy of the buffered messages.
func (b *Bot) History() []ctxpkg.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Snapshot()
}

// Symbols returns the buffered character count.
func (b *Bot) Symbols() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Symbols()
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
