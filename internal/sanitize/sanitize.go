// Package sanitize post-processes raw completion text before it is stored
// or relayed.
package sanitize

import (
	"fmt"
	"strings"
)

// Step names accepted by Parse.
const (
	StepMarkers    = "markers"
	StepNamePrefix = "name_prefix"
)

// DefaultMarkers are artifact prefixes some models emit before the actual
// reply.
var DefaultMarkers = []string{"developer mode response:", "developer mode:"}

// Step transforms text produced for the bot named botName. ok=false rejects
// the completion.
type Step interface {
	Apply(botName, text string) (string, bool)
}

// Pipeline applies steps in order and stops at the first rejection.
type Pipeline []Step

// Apply runs every step. An empty final result is rejected.
func (p Pipeline) Apply(botName, text string) (string, bool) {
	for _, step := range p {
		var ok bool
		text, ok = step.Apply(botName, text)
		if !ok {
			return "", false
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// Parse builds a pipeline from a comma separated list of step names.
func Parse(list string, markers []string) (Pipeline, error) {
	var p Pipeline
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		switch name {
		case "":
			continue
		case StepMarkers:
			p = append(p, MarkerStripper{Markers: markers})
		case StepNamePrefix:
			p = append(p, NamePrefix{})
		default:
			return nil, fmt.Errorf("unknown sanitizer %q", name)
		}
	}
	return p, nil
}

// MarkerStripper drops everything up to and including a known marker.
//
// A marker found at position zero leaves the text untouched.
type MarkerStripper struct {
	Markers []string
}

// Apply never rejects.
func (s MarkerStripper) Apply(_ string, text string) (string, bool) {
	for _, m := range s.Markers {
		text = stripMarker(text, m)
	}
	return text, true
}

// stripMarker drops everything up to and including marker. A marker found at
// position zero leaves text unchanged.
func stripMarker(text, marker string) string {
	if marker == "" {
		return text
	}
	idx := indexFold(text, marker)
	if idx <= 0 {
		return text
	}
	return strings.TrimSpace(text[idx+len(marker):])
}

// indexFold is a case-insensitive strings.Index that returns a byte offset
// into s.
func indexFold(s, sep string) int {
	n := len(sep)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], sep) {
			return i
		}
	}
	return -1
}

// NamePrefix requires replies shaped as "<botName>: <text>" and keeps only
// the text after the first colon.
type NamePrefix struct{}

// Apply rejects text that does not start with botName and a colon.
func (NamePrefix) Apply(botName, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if botName == "" || !strings.HasPrefix(text, botName) {
		return "", false
	}
	_, after, found := strings.Cut(text, ":")
	if !found {
		return "", false
	}
	return strings.TrimSpace(after), true
}
