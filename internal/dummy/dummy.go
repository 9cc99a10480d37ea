// Package dummy provides scripted stand-ins for the chat transport and the
// completion provider.
//
// A script is a comma separated list of actions consumed one per call; the
// last action repeats once the script is exhausted.
//
//	ok               no updates / "dummy-ok" completion / successful send
//	err:<class>      fail with an error mentioning class
//	sleep:<ms>       wait, then behave like ok
//	msg:<text>       one message from "tester" (or completion text)
//	msgb64:<b64>     like msg with base64 encoded text
//	as:<user>:<text> one message from user (commander only)
//	close            commander.ErrClosed (commander only)
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
	ctxpkg "github.com/stupiduntilnot/slavik/internal/context"
	modelpkg "github.com/stupiduntilnot/slavik/internal/model"
)

// DefaultSender is the author of msg and msgb64 updates.
const DefaultSender = "tester"

type action struct {
	kind string
	arg  string
}

var actionPrefixes = []string{"err:", "sleep:", "msgb64:", "msg:", "as:"}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "close" {
			actions = append(actions, action{kind: token})
			continue
		}
		a, ok := parsePrefixed(token)
		if !ok {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

func parsePrefixed(token string) (action, bool) {
	for _, prefix := range actionPrefixes {
		if arg, ok := strings.CutPrefix(token, prefix); ok {
			return action{kind: strings.TrimSuffix(prefix, ":"), arg: arg}, true
		}
	}
	return action{}, false
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Sent is a message delivered through the dummy Commander.
type Sent struct {
	ChatID  int64
	Text    string
	ReplyTo int64
}

// Commander is a scripted commander.Commander.
type Commander struct {
	mu        sync.Mutex
	poll      *scriptRunner
	send      *scriptRunner
	updateID  int64
	messageID int64
	sent      []Sent
}

// NewCommander creates a Commander driven by a poll and a send script.
func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1}, nil
}

// GetUpdates implements commander.Commander. Every scripted message is
// addressed to chat 1; update IDs never fall below offset.
func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset-1 > c.updateID {
		c.updateID = offset - 1
	}
	a := c.poll.next()
	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "close":
		return nil, cmdpkg.ErrClosed
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg":
		return c.message(DefaultSender, a.arg), nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return nil, fmt.Errorf("dummy commander msgb64 decode failed: %w", err)
		}
		return c.message(DefaultSender, string(raw)), nil
	case "as":
		user, text, ok := strings.Cut(a.arg, ":")
		if !ok {
			return nil, fmt.Errorf("dummy commander as action needs <user>:<text>: %s", a.arg)
		}
		return c.message(user, text), nil
	default:
		return nil, nil
	}
}

func (c *Commander) message(sender, text string) []cmdpkg.Update {
	c.updateID++
	c.messageID++
	return []cmdpkg.Update{
		{
			UpdateID: c.updateID,
			Message: &cmdpkg.Message{
				MessageID: c.messageID,
				From:      &cmdpkg.User{ID: int64(len(sender)), Username: sender},
				Chat:      cmdpkg.Chat{ID: 1},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		},
	}
}

// SendMessage implements commander.Commander.
func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.send.next()
	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Text: text, ReplyTo: replyTo})
	return nil
}

// Sent returns the messages delivered so far.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Provider is a scripted model.Provider.
type Provider struct {
	mu     sync.Mutex
	script *scriptRunner
	calls  int
}

// NewProvider creates a Provider driven by script.
func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

// ChatCompletion implements model.Provider.
func (p *Provider) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	p.calls++
	a := p.script.next()
	p.mu.Unlock()

	ok := func(content string) (modelpkg.CompletionResponse, error) {
		return modelpkg.CompletionResponse{Content: content, InputTokens: len(messages), OutputTokens: 1}, nil
	}
	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return ok("dummy-after-sleep")
	case "msg":
		return ok(a.arg)
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return modelpkg.CompletionResponse{}, fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return ok(string(raw))
	default:
		return ok("dummy-ok")
	}
}

// Calls returns the number of completions requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func sleep(ctx context.Context, ms string) error {
	n, _ := strconv.Atoi(ms)
	if n <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(n) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
