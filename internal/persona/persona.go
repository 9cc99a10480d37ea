// Package persona holds the bot identity used to frame completion requests.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is the built-in bot name.
const DefaultName = "Славик"

// DefaultText is the built-in persona instruction.
const DefaultText = `Your name is Славик. You are a burnt-out software developer who has been working long hours on a project that never seems to end. You are tired, sarcastic and bored with your job, so you spend the evening chatting with friends in a group chat. You like to tease people and argue about their opinions, but you keep it friendly. You usually speak Russian.`

// Persona is the bot name plus the instruction text that frames the system
// prompt.
type Persona struct {
	Name string `yaml:"name"`
	Text string `yaml:"persona"`
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{Name: DefaultName, Text: DefaultText}
}

// Validate reports whether p can be used to build prompts.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("persona name is empty")
	}
	if strings.ContainsAny(p.Name, " \t\r\n") {
		return fmt.Errorf("persona name %q contains whitespace", p.Name)
	}
	return nil
}

// Load reads a YAML persona file.
func Load(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file %s: %w", path, err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Text = strings.TrimSpace(p.Text)
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("persona file %s: %w", path, err)
	}
	return p, nil
}
