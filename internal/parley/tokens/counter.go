// Package tokens is the accountant for model context windows: it estimates
// the token cost of prompt text, derives the per-request budget split
// between response reservation and replayable context, and keeps the
// durable usage/cost ledger.
package tokens

import "strings"

// perMessageOverhead is the framing cost of one chat message (role label
// and delimiters) on top of its content.
const perMessageOverhead = 4

// modelSpec describes what the accountant knows about a model family.
type modelSpec struct {
	contextLimit  int
	charsPerToken int
}

// modelSpecs maps model-name prefixes to their context limits. Counting
// uses a chars-per-token ratio tuned per family; the divisor is chosen low
// (pessimistic) so that budget decisions overestimate rather than silently
// blow the model's hard limit.
var modelSpecs = []struct {
	prefix string
	spec   modelSpec
}{
	{"gpt-4o-mini", modelSpec{contextLimit: 128000, charsPerToken: 4}},
	{"gpt-4o", modelSpec{contextLimit: 128000, charsPerToken: 4}},
	{"gpt-4-turbo", modelSpec{contextLimit: 128000, charsPerToken: 4}},
	{"gpt-4", modelSpec{contextLimit: 8192, charsPerToken: 4}},
	{"gpt-3.5-turbo-16k", modelSpec{contextLimit: 16384, charsPerToken: 4}},
	{"gpt-3.5-turbo", modelSpec{contextLimit: 4096, charsPerToken: 4}},
}

// defaultSpec is used for unknown models: a conservative context limit and
// a 3-chars-per-token ratio that overestimates for most text.
var defaultSpec = modelSpec{contextLimit: 4096, charsPerToken: 3}

// Counter estimates token counts and knows per-model context limits.
// The zero value is ready to use.
type Counter struct{}

// Count estimates the number of tokens in text for the given model,
// including the per-message framing overhead. The estimate rounds up.
func (Counter) Count(text, model string) int {
	if text == "" {
		return perMessageOverhead
	}
	cpt := specFor(model).charsPerToken
	return (len(text)+cpt-1)/cpt + perMessageOverhead
}

// ContextLimit returns the model's maximum context length in tokens.
func (Counter) ContextLimit(model string) int {
	return specFor(model).contextLimit
}

func specFor(model string) modelSpec {
	for _, m := range modelSpecs {
		if strings.HasPrefix(model, m.prefix) {
			return m.spec
		}
	}
	return defaultSpec
}
