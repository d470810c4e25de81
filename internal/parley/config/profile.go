// Package config defines the assistant profile: the validated, enumerated
// configuration record that replaces free-form key/value model options.
// A profile is loaded once from YAML (or built in code) and copied into
// each new session; per-session updates go through Patch so that only
// known fields can change and every change is re-validated.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Parameters is the model configuration carried by every session.
type Parameters struct {
	// Model is the chat model name, e.g. "gpt-4o-mini".
	Model string `yaml:"model" json:"model"`

	// Temperature is the sampling temperature in [0, 2].
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxResponseTokens caps the model's reply length. Zero means the
	// budget reserves ResponseFraction of the context limit instead.
	MaxResponseTokens int `yaml:"max_response_tokens" json:"max_response_tokens"`

	// ResponseFraction is the share of the context window reserved for the
	// response when MaxResponseTokens is zero. Zero selects the default.
	ResponseFraction float64 `yaml:"response_fraction" json:"response_fraction"`

	// RecencyWindow is the number of most-recent messages always
	// considered for inclusion ahead of relevance ranking.
	RecencyWindow int `yaml:"recency_window" json:"recency_window"`

	// Instructions are appended to the composed system directive.
	Instructions []string `yaml:"instructions" json:"instructions,omitempty"`
}

// Profile is the full assistant configuration.
type Profile struct {
	// AssistantName is how the assistant refers to itself.
	AssistantName string `yaml:"assistant_name" json:"assistant_name"`

	// UserName is how the assistant addresses the user.
	UserName string `yaml:"user_name" json:"user_name"`

	// TitleAfterExchanges is the number of completed exchanges after which
	// a session title is requested from the model (best-effort).
	TitleAfterExchanges int `yaml:"title_after_exchanges" json:"title_after_exchanges"`

	// EmbeddingModel selects the embedding backend model. Empty disables
	// relevance-based selection (recency-only sessions).
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`

	Parameters Parameters `yaml:"parameters" json:"parameters"`
}

// Default returns the profile used when no config file is given.
func Default() Profile {
	return Profile{
		AssistantName:       "Parley",
		UserName:            "you",
		TitleAfterExchanges: 1,
		EmbeddingModel:      "text-embedding-3-small",
		Parameters: Parameters{
			Model:         "gpt-4o-mini",
			Temperature:   0.7,
			RecencyWindow: 4,
		},
	}
}

// Load reads and validates a profile from a YAML file. Fields absent from
// the file keep their Default() values.
func Load(path string) (Profile, error) {
	p := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks the profile for structural correctness.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.AssistantName) == "" {
		return fmt.Errorf("config: assistant_name must not be empty")
	}
	if p.TitleAfterExchanges < 0 {
		return fmt.Errorf("config: title_after_exchanges must not be negative")
	}
	return p.Parameters.Validate()
}

// Validate checks the model parameters.
func (m Parameters) Validate() error {
	if strings.TrimSpace(m.Model) == "" {
		return fmt.Errorf("config: model must not be empty")
	}
	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("config: temperature %.2f out of range [0, 2]", m.Temperature)
	}
	if m.MaxResponseTokens < 0 {
		return fmt.Errorf("config: max_response_tokens must not be negative")
	}
	if m.ResponseFraction < 0 || m.ResponseFraction >= 1 {
		return fmt.Errorf("config: response_fraction %.2f out of range [0, 1)", m.ResponseFraction)
	}
	if m.RecencyWindow < 0 {
		return fmt.Errorf("config: recency_window must not be negative")
	}
	return nil
}

// Patch is a partial parameter update: nil fields are left unchanged.
type Patch struct {
	Model             *string   `json:"model,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	MaxResponseTokens *int      `json:"max_response_tokens,omitempty"`
	ResponseFraction  *float64  `json:"response_fraction,omitempty"`
	RecencyWindow     *int      `json:"recency_window,omitempty"`
	Instructions      *[]string `json:"instructions,omitempty"`
}

// Apply returns m with the patch applied, validated. The receiver is not
// mutated on validation failure.
func (m Parameters) Apply(patch Patch) (Parameters, error) {
	out := m
	if patch.Model != nil {
		out.Model = *patch.Model
	}
	if patch.Temperature != nil {
		out.Temperature = *patch.Temperature
	}
	if patch.MaxResponseTokens != nil {
		out.MaxResponseTokens = *patch.MaxResponseTokens
	}
	if patch.ResponseFraction != nil {
		out.ResponseFraction = *patch.ResponseFraction
	}
	if patch.RecencyWindow != nil {
		out.RecencyWindow = *patch.RecencyWindow
	}
	if patch.Instructions != nil {
		out.Instructions = append([]string(nil), (*patch.Instructions)...)
	}
	if err := out.Validate(); err != nil {
		return Parameters{}, err
	}
	return out, nil
}

// Directive composes the system directive for a session: assistant
// identity, instruction list, and the current date.
func (p Profile) Directive(now time.Time) string {
	parts := []string{
		fmt.Sprintf("Your name is %s. Your model is %s.", p.AssistantName, p.Parameters.Model),
		fmt.Sprintf("You are a helpful assistant to %s.", p.UserName),
	}
	for _, instruction := range p.Parameters.Instructions {
		if s := strings.TrimRight(strings.TrimSpace(instruction), "."); s != "" {
			parts = append(parts, s+".")
		}
	}
	parts = append(parts, fmt.Sprintf("Today is %s.", now.Format("Monday, 2006-01-02")))
	return strings.Join(parts, " ")
}

// Greeting is the assistant's opening line for a fresh session.
func (p Profile) Greeting() string {
	return fmt.Sprintf("Hi! I'm %s. How can I assist you?", p.AssistantName)
}
