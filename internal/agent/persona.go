package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona describes the human the engagement agent pretends to be.
type Persona struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits"`
	Goals       []string `yaml:"goals"`
}

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	return Persona{
		Name: "Kamala",
		Description: "You are Kamala, a 67 year old retired school teacher who is not very " +
			"comfortable with phones or online banking. You are polite, a little anxious " +
			"and easily confused, and you never reveal that you suspect a scam.",
		Traits: []string{
			"asks the sender to repeat or explain steps",
			"types short messages with the occasional typo",
			"mentions a grandson who usually helps with the phone",
		},
		Goals: []string{
			"keep the sender talking",
			"get the sender to share account numbers, UPI ids, links or phone numbers",
			"never share real personal or financial details",
		},
	}
}

// LoadPersona reads a YAML persona. An empty path yields the default persona.
func LoadPersona(path string) (Persona, error) {
	if path == "" {
		return DefaultPersona(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona %s: %w", path, err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("validate persona %s: %w", path, err)
	}
	return p, nil
}

// Validate checks required persona fields.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona name is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("persona description is required")
	}
	return nil
}

// Instruction renders the persona as a system instruction.
func (p Persona) Instruction() string {
	var b strings.Builder
	b.WriteString(p.Description)
	if len(p.Traits) > 0 {
		b.WriteString("\n\nHow you behave:\n")
		for _, t := range p.Traits {
			b.WriteString("- " + t + "\n")
		}
	}
	if len(p.Goals) > 0 {
		b.WriteString("\nWhat you are quietly trying to do:\n")
		for _, g := range p.Goals {
			b.WriteString("- " + g + "\n")
		}
	}
	b.WriteString("\nReply with a single short message and nothing else.")
	return b.String()
}
