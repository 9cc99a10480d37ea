package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardAssembler_Assemble(t *testing.T) {
	a := &StandardAssembler{}
	history := []Message{
		UserMessage("alice", "prev question"),
		BotMessage("Bot", "prev answer"),
	}
	result := a.Assemble("Bot", "You are a bot.", history)
	require.Len(t, result, 3)

	assert.Equal(t, RoleSystem, result[0].Role)
	assert.Regexp(t, `^You are a bot\.`, result[0].Content, "system prompt starts with persona")
	assert.Contains(t, result[0].Content, `"Bot: <text>"`, "format instruction")
	assert.Equal(t, Message{Role: RoleUser, Content: "alice: prev question"}, result[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Bot: prev answer"}, result[2])
}

func TestStandardAssembler_EmptyHistory(t *testing.T) {
	result := (&StandardAssembler{}).Assemble("Bot", "system", nil)
	require.Len(t, result, 1)
	assert.Equal(t, RoleSystem, result[0].Role)
}

func TestCollapsedAssembler_Assemble(t *testing.T) {
	a := &CollapsedAssembler{}
	history := []Message{
		UserMessage("alice", "hi"),
		UserMessage("bob", "hey there"),
		BotMessage("Bot", "yo"),
	}
	result := a.Assemble("Bot", "persona", history)
	require.Len(t, result, 2)
	assert.Equal(t, RoleUser, result[1].Role, "collapsed history is a user entry")
	assert.Equal(t, "alice: hi\nbob: hey there\nBot: yo", result[1].Content)
}

func TestCollapsedAssembler_EmptyHistory(t *testing.T) {
	result := (&CollapsedAssembler{}).Assemble("Bot", "persona", nil)
	assert.Len(t, result, 1, "only the system entry")
}

func TestNewAssembler(t *testing.T) {
	for scheme, want := range map[string]Assembler{
		"":              &StandardAssembler{},
		SchemePerTurn:   &StandardAssembler{},
		SchemeCollapsed: &CollapsedAssembler{},
	} {
		a, err := NewAssembler(scheme)
		require.NoError(t, err, scheme)
		assert.IsType(t, want, a, scheme)
	}
	_, err := NewAssembler("bogus")
	assert.Error(t, err)
}
