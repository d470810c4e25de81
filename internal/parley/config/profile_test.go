package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parleybot/parley/internal/parley/config"
)

func TestDefault_IsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default profile must validate: %v", err)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
assistant_name: Aria
parameters:
  model: gpt-4o
  temperature: 0.2
  instructions:
    - Answer in French
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.AssistantName != "Aria" {
		t.Errorf("AssistantName: got %q, want Aria", p.AssistantName)
	}
	if p.Parameters.Model != "gpt-4o" {
		t.Errorf("Model: got %q, want gpt-4o", p.Parameters.Model)
	}
	if p.Parameters.Temperature != 0.2 {
		t.Errorf("Temperature: got %v, want 0.2", p.Parameters.Temperature)
	}
	// Fields absent from the file keep their defaults.
	if p.EmbeddingModel != config.Default().EmbeddingModel {
		t.Errorf("EmbeddingModel: got %q, want default", p.EmbeddingModel)
	}
	if len(p.Parameters.Instructions) != 1 || p.Parameters.Instructions[0] != "Answer in French" {
		t.Errorf("Instructions: got %v", p.Parameters.Instructions)
	}
}

func TestLoad_RejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
parameters:
  model: gpt-4o
  temperature: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for temperature 5")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Profile)
	}{
		{"empty assistant name", func(p *config.Profile) { p.AssistantName = " " }},
		{"negative title threshold", func(p *config.Profile) { p.TitleAfterExchanges = -1 }},
		{"empty model", func(p *config.Profile) { p.Parameters.Model = "" }},
		{"temperature too high", func(p *config.Profile) { p.Parameters.Temperature = 2.5 }},
		{"negative response tokens", func(p *config.Profile) { p.Parameters.MaxResponseTokens = -1 }},
		{"fraction of one", func(p *config.Profile) { p.Parameters.ResponseFraction = 1 }},
		{"negative recency window", func(p *config.Profile) { p.Parameters.RecencyWindow = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := config.Default()
			tc.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestApply_PatchesAndRevalidates(t *testing.T) {
	base := config.Default().Parameters

	model := "gpt-4o"
	window := 6
	next, err := base.Apply(config.Patch{Model: &model, RecencyWindow: &window})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Model != "gpt-4o" || next.RecencyWindow != 6 {
		t.Errorf("patched parameters: %+v", next)
	}
	// Untouched fields survive.
	if next.Temperature != base.Temperature {
		t.Errorf("Temperature changed unexpectedly: %v", next.Temperature)
	}

	bad := -3.0
	if _, err := base.Apply(config.Patch{Temperature: &bad}); err == nil {
		t.Fatal("expected validation error for negative temperature")
	}
}

func TestDirective_ComposesIdentityInstructionsAndDate(t *testing.T) {
	p := config.Default()
	p.AssistantName = "Aria"
	p.UserName = "Sam"
	p.Parameters.Instructions = []string{"  Answer briefly. ", ""}

	now := time.Date(2026, 2, 24, 15, 0, 0, 0, time.UTC)
	d := p.Directive(now)

	for _, want := range []string{
		"Your name is Aria.",
		"helpful assistant to Sam",
		"Answer briefly.",
		"Today is Tuesday, 2026-02-24.",
	} {
		if !strings.Contains(d, want) {
			t.Errorf("directive missing %q:\n%s", want, d)
		}
	}
}

func TestGreeting_NamesTheAssistant(t *testing.T) {
	p := config.Default()
	p.AssistantName = "Aria"
	if got := p.Greeting(); !strings.Contains(got, "Aria") {
		t.Errorf("greeting must name the assistant: %q", got)
	}
}
