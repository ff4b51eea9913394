package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPersonaDefault(t *testing.T) {
	p, err := LoadPersona("")
	if err != nil {
		t.Fatalf("LoadPersona: %v", err)
	}
	if p.Name != DefaultPersona().Name {
		t.Fatalf("expected default persona, got %q", p.Name)
	}
}

func TestLoadPersonaFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	content := `name: Ravi
description: You are Ravi, a busy shop owner.
traits:
  - replies in short bursts
goals:
  - ask for the payment link again
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}

	p, err := LoadPersona(path)
	if err != nil {
		t.Fatalf("LoadPersona: %v", err)
	}
	if p.Name != "Ravi" || len(p.Traits) != 1 || len(p.Goals) != 1 {
		t.Fatalf("unexpected persona %+v", p)
	}

	instr := p.Instruction()
	for _, want := range []string{"busy shop owner", "- replies in short bursts", "- ask for the payment link again"} {
		if !strings.Contains(instr, want) {
			t.Errorf("instruction missing %q:\n%s", want, instr)
		}
	}
}

func TestLoadPersonaRejectsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("name: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	if _, err := LoadPersona(path); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := LoadPersona(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
