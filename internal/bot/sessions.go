package bot

import (
	"fmt"
	"sync"

	"github.com/stupiduntilnot/slavik/internal/persona"
)

// Context scopes accepted by NewSessions.
const (
	ScopeChat   = "chat"
	ScopeGlobal = "global"
)

// Factory creates the Bot serving chatID with the given default persona.
type Factory func(chatID int64, defaults persona.Persona) *Bot

// Sessions maps chats to bots. In ScopeGlobal every chat shares one Bot.
//
// A Bot lives until the process exits: chats are never evicted, so a quiet
// chat keeps its history and persona overrides. Memory grows with the number
// of distinct chats, each holding at most MaxSymbols of history.
type Sessions struct {
	mu       sync.Mutex
	global   bool
	defaults persona.Persona
	factory  Factory
	bots     map[int64]*Bot
}

// NewSessions creates an empty session table.
func NewSessions(scope string, defaults persona.Persona, factory Factory) (*Sessions, error) {
	var global bool
	switch scope {
	case "", ScopeChat:
	case ScopeGlobal:
		global = true
	default:
		return nil, fmt.Errorf("unknown context scope %q", scope)
	}
	return &Sessions{
		global:   global,
		defaults: defaults,
		factory:  factory,
		bots:     map[int64]*Bot{},
	}, nil
}

// Get returns the Bot for chatID, creating it on first use.
func (s *Sessions) Get(chatID int64) *Bot {
	if s.global {
		chatID = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[chatID]
	if !ok {
		b = s.factory(chatID, s.defaults)
		s.bots[chatID] = b
	}
	return b
}

// SetDefaults installs a new default persona for existing and future bots.
func (s *Sessions) SetDefaults(p persona.Persona) {
	s.mu.Lock()
	s.defaults = p
	bots := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		bots = append(bots, b)
	}
	s.mu.Unlock()

	for _, b := range bots {
		b.SetDefaults(p)
	}
}

// Len returns the number of live bots.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots)
}
