package context

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := NewBuffer(9)
	b.Append(UserMessage("alice", "AAA"))
	b.Append(BotMessage("Bot", "BBB"))
	b.Append(UserMessage("bob", "CCC"))

	evicted := b.Append(UserMessage("alice", "DDD"))

	assert.Equal(t, 1, evicted)
	assert.Equal(t, []string{"BBB", "CCC", "DDD"}, contents(b.Snapshot()))
	assert.Equal(t, 9, b.Symbols())
}

func TestBuffer_EvictsIgnoringRole(t *testing.T) {
	b := NewBuffer(4)
	b.Append(BotMessage("Bot", "aa"))
	b.Append(UserMessage("alice", "bb"))
	b.Append(UserMessage("alice", "cc"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, RoleUser, snap[0].Role)
	assert.Equal(t, "bb", snap[0].Content)
}

func TestBuffer_CapInvariant(t *testing.T) {
	const limit = 50
	rng := rand.New(rand.NewSource(7))
	b := NewBuffer(limit)
	for i := 0; i < 1000; i++ {
		n := rng.Intn(limit) + 1
		b.Append(UserMessage("u", strings.Repeat("x", n)))

		total := 0
		for _, m := range b.Snapshot() {
			total += m.Symbols()
		}
		require.LessOrEqual(t, total, limit, "iteration %d", i)
		require.Equal(t, total, b.Symbols(), "running total drifted at iteration %d", i)
	}
}

func TestBuffer_OversizedMessage(t *testing.T) {
	b := NewBuffer(10)
	b.Append(UserMessage("alice", "hello"))
	b.Append(UserMessage("bob", "world"))

	huge := strings.Repeat("z", 25)
	evicted := b.Append(UserMessage("carol", huge))

	assert.Equal(t, 2, evicted)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, huge, b.Snapshot()[0].Content)
	assert.Equal(t, 25, b.Symbols())

	b.Append(UserMessage("dave", "ok"))
	assert.Equal(t, []string{"ok"}, contents(b.Snapshot()))
	assert.Equal(t, 2, b.Symbols())
}

func TestBuffer_OversizedIntoEmpty(t *testing.T) {
	b := NewBuffer(3)
	b.Append(UserMessage("alice", "four"))
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 4, b.Symbols())
}

func TestBuffer_CountsCharactersNotBytes(t *testing.T) {
	b := NewBuffer(6)
	b.Append(UserMessage("alice", "привет"))
	b.Append(UserMessage("bob", "ok"))

	assert.Equal(t, []string{"ok"}, contents(b.Snapshot()))

	b.Reset()
	b.Append(UserMessage("alice", "привет"))
	assert.Equal(t, 6, b.Symbols())
	assert.Equal(t, 1, b.Len())
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer(100)
	b.Append(UserMessage("alice", "one"))
	b.Append(BotMessage("Bot", "two"))

	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Symbols())
	assert.Empty(t, b.Snapshot())
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := NewBuffer(100)
	b.Append(UserMessage("alice", "one"))

	snap := b.Snapshot()
	snap[0].Content = "mutated"
	b.Append(UserMessage("alice", "two"))

	assert.Equal(t, []string{"one", "two"}, contents(b.Snapshot()))
	assert.Len(t, snap, 1)
}

func TestNewBuffer_DefaultCap(t *testing.T) {
	assert.Equal(t, DefaultMaxSymbols, NewBuffer(0).MaxSymbols())
	assert.Equal(t, 10, NewBuffer(10).MaxSymbols())
}
