package bot

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Directive markers recognized anywhere in an inbound message.
const (
	MarkerResetSystem  = "/resetSystem"
	MarkerResetContext = "/resetContext"
	MarkerSetSystem    = "/setSystem"
)

// Replies returned for directives.
const (
	ReplyContextReset = "Context reset"
	ReplySystemReset  = "System reset"
	ReplySystemSet    = "System set"
	ReplyInvalidSet   = "Invalid format. Use /setSystem <botName> <personality>"
)

type directiveKind int

const (
	directiveNone directiveKind = iota
	directiveResetSystem
	directiveResetContext
	directiveSetSystem
)

func (k directiveKind) String() string {
	switch k {
	case directiveResetSystem:
		return "reset_system"
	case directiveResetContext:
		return "reset_context"
	case directiveSetSystem:
		return "set_system"
	default:
		return "none"
	}
}

type directive struct {
	kind    directiveKind
	name    string
	persona string
	valid   bool
}

// parseDirective detects a directive in text. /resetSystem is checked
// before /resetContext since it also clears the context.
func parseDirective(text string) directive {
	if strings.Contains(text, MarkerResetSystem) {
		return directive{kind: directiveResetSystem, valid: true}
	}
	if strings.Contains(text, MarkerResetContext) {
		return directive{kind: directiveResetContext, valid: true}
	}
	idx := strings.Index(text, MarkerSetSystem)
	if idx < 0 {
		return directive{kind: directiveNone}
	}
	d := directive{kind: directiveSetSystem}
	rest := text[idx+len(MarkerSetSystem):]
	if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
		return d
	}
	name, body, ok := cutSpace(strings.TrimLeftFunc(rest, unicode.IsSpace))
	if !ok {
		return d
	}
	body = strings.TrimSpace(body)
	if name == "" || body == "" {
		return d
	}
	d.name, d.persona, d.valid = name, body, true
	return d
}

// cutSpace splits s around the first whitespace character.
func cutSpace(s string) (before, after string, found bool) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i:], true
}
