package context

// Buffer is an ordered, size-bounded message history with FIFO eviction.
//
// After every Append the total content length stays within MaxSymbols,
// unless the appended message alone is longer than the cap; in that case
// the buffer holds exactly that message.
//
// Buffer is not safe for concurrent use. Its owner serializes access.
type Buffer struct {
	maxSymbols int
	messages   []Message
	symbols    int
}

// NewBuffer creates an empty buffer. A non-positive cap selects
// DefaultMaxSymbols.
func NewBuffer(maxSymbols int) *Buffer {
	if maxSymbols <= 0 {
		maxSymbols = DefaultMaxSymbols
	}
	return &Buffer{maxSymbols: maxSymbols}
}

// Append adds msg at the tail, evicting from the head until it fits.
// It returns the number of evicted messages.
func (b *Buffer) Append(msg Message) int {
	n := msg.Symbols()
	evicted := 0
	for b.symbols+n > b.maxSymbols && len(b.messages) > 0 {
		b.symbols -= b.messages[0].Symbols()
		b.messages[0] = Message{}
		b.messages = b.messages[1:]
		evicted++
	}
	b.messages = append(b.messages, msg)
	b.symbols += n
	return evicted
}

// Snapshot returns a copy of the messages in insertion order.
func (b *Buffer) Snapshot() []Message {
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Reset drops all messages.
func (b *Buffer) Reset() {
	b.messages = nil
	b.symbols = 0
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.messages)
}

// Symbols returns the running total of buffered content length.
func (b *Buffer) Symbols() int {
	return b.symbols
}

// MaxSymbols returns the configured cap.
func (b *Buffer) MaxSymbols() int {
	return b.maxSymbols
}
