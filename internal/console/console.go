// Package console is a local terminal transport: each input line is a
// message from the local user and replies are printed back.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	cmdpkg "github.com/stupiduntilnot/slavik/internal/commander"
)

// ChatID is the chat every console message belongs to.
const ChatID int64 = 1

type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements commander.Commander on top of readline.
type Console struct {
	rl   lineReader
	out  io.Writer
	user string

	mu        sync.Mutex
	updateID  int64
	messageID int64
}

// Config configures a Console.
type Config struct {
	User        string
	HistoryFile string
}

// New opens an interactive console on the process terminal.
func New(cfg Config) (*Console, error) {
	if cfg.User == "" {
		cfg.User = "you"
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cfg.User + "> ",
		HistoryFile:       cfg.HistoryFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return newConsole(rl, rl.Stdout(), cfg.User), nil
}

func newConsole(rl lineReader, out io.Writer, user string) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{rl: rl, out: out, user: user}
}

// GetUpdates blocks for one input line. EOF and an interrupt on an empty
// line close the console. Update IDs continue from offset, so a console
// resumed on a persisted inbox never reuses an ID.
func (c *Console) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := c.rl.Readline()
	switch {
	case errors.Is(err, readline.ErrInterrupt):
		if line == "" {
			return nil, cmdpkg.ErrClosed
		}
		return nil, nil
	case errors.Is(err, io.EOF):
		return nil, cmdpkg.ErrClosed
	case err != nil:
		return nil, fmt.Errorf("read console line: %w", err)
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if offset-1 > c.updateID {
		c.updateID = offset - 1
	}
	c.updateID++
	c.messageID++
	return []cmdpkg.Update{{
		UpdateID: c.updateID,
		Message: &cmdpkg.Message{
			MessageID: c.messageID,
			From:      &cmdpkg.User{ID: 1, Username: c.user},
			Chat:      cmdpkg.Chat{ID: ChatID},
			Text:      &text,
			Date:      time.Now().Unix(),
		},
	}}, nil
}

// SendMessage prints text.
func (c *Console) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n", text)
	return err
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}
