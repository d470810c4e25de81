package tokens

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded is returned when the mandatory prompt elements (system
// directive plus the new user message) do not fit in the space left after
// the response reservation. The caller surfaces it; no partial request is
// ever sent.
var ErrBudgetExceeded = errors.New("tokens: mandatory prompt elements exceed budget")

// DefaultResponseFraction is the share of the model context reserved for
// the response when the caller does not cap response length explicitly.
const DefaultResponseFraction = 0.25

// PromptBudget is the derived, per-request token allocation. It is
// transient — computed fresh for every submit, never persisted.
type PromptBudget struct {
	// MaxTotalTokens is the model's hard context limit.
	MaxTotalTokens int
	// ReservedForResponse is held back for the model's reply.
	ReservedForResponse int
	// AvailableForContext is what remains for directive + selected
	// history + the new user message.
	AvailableForContext int
}

// ContextAllowance returns the token budget left for selected history once
// the mandatory elements are accounted for. It fails with
// ErrBudgetExceeded when directive + user message alone overrun the
// available space.
func (b PromptBudget) ContextAllowance(directiveTokens, userTokens int) (int, error) {
	allowance := b.AvailableForContext - directiveTokens - userTokens
	if allowance < 0 {
		return 0, fmt.Errorf("tokens: directive (%d) + message (%d) need %d of %d available: %w",
			directiveTokens, userTokens, directiveTokens+userTokens, b.AvailableForContext, ErrBudgetExceeded)
	}
	return allowance, nil
}

// BudgetFor derives the prompt budget for one request. maxResponseTokens
// caps the reservation when positive; otherwise responseFraction of the
// model context limit is reserved (DefaultResponseFraction when zero).
func (c Counter) BudgetFor(model string, maxResponseTokens int, responseFraction float64) PromptBudget {
	limit := c.ContextLimit(model)

	if responseFraction <= 0 || responseFraction >= 1 {
		responseFraction = DefaultResponseFraction
	}

	reserved := maxResponseTokens
	if reserved <= 0 || reserved >= limit {
		reserved = int(float64(limit) * responseFraction)
	}

	return PromptBudget{
		MaxTotalTokens:      limit,
		ReservedForResponse: reserved,
		AvailableForContext: limit - reserved,
	}
}
