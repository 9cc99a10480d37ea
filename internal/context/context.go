package context

import "fmt"

// DefaultMaxSymbols is the default character budget of a Buffer.
const DefaultMaxSymbols = 2000

// Assembler combines the persona and the buffered history into the final
// message list sent to a model provider.
type Assembler interface {
	Assemble(botName, persona string, history []Message) []Message
}

// Prompt schemes accepted by NewAssembler.
const (
	SchemePerTurn   = "per_turn"
	SchemeCollapsed = "collapsed"
)

// NewAssembler returns the assembler registered under scheme.
func NewAssembler(scheme string) (Assembler, error) {
	switch scheme {
	case "", SchemePerTurn:
		return &StandardAssembler{}, nil
	case SchemeCollapsed:
		return &CollapsedAssembler{}, nil
	default:
		return nil, fmt.Errorf("unknown prompt scheme %q", scheme)
	}
}

// FormatInstruction tells the model which shape a reply must have.
func FormatInstruction(botName string) string {
	return fmt.Sprintf("Reply with exactly one message in the form \"%s: <text>\" and no additional commentary.", botName)
}

func systemPrompt(botName, persona string) string {
	if persona == "" {
		return FormatInstruction(botName)
	}
	return persona + "\n\n" + FormatInstruction(botName)
}

func line(m Message) string {
	return m.Sender + ": " + m.Content
}
