package chat

import (
	"sort"

	"github.com/parleybot/parley/internal/parley/embed"
)

// DefaultRecencyWindow is the number of most-recent messages always
// considered for inclusion ahead of relevance ranking: two full exchanges.
const DefaultRecencyWindow = 4

// Selector chooses which prior turns of a conversation are replayed to the
// model for the current request. The most recent window is included first
// for local coherence; remaining budget goes to older turns ranked by
// embedding similarity against the new user message. A turn either fits
// whole or is skipped — partial truncation would destroy its meaning.
type Selector struct {
	// RecencyWindow is the number of most-recent messages considered
	// before relevance ranking. DefaultRecencyWindow when zero.
	RecencyWindow int
}

// Selection is the selector's output for one request.
type Selection struct {
	// Messages is the selected context in prompt order: recency-window
	// messages first, then relevance-ranked ones, each group oldest-first.
	Messages []Message

	// TokenTotal is the summed TokenCount of Messages. Always within the
	// allowance the selector was given.
	TokenTotal int

	// Degraded is true when selection fell back to recency-only because no
	// query embedding was available. This is a documented mode, not an error.
	Degraded bool
}

// Select picks context from log within allowance tokens. queryVec is the
// embedding of the new user message; when nil (embedding backend down or
// disabled) selection degrades to recency-only. index holds the cached
// embeddings of prior turns — turns without a vector cannot be ranked and
// are considered only by the degraded path.
func (s Selector) Select(log []Message, index *EmbeddingIndex, queryVec []float32, allowance int) Selection {
	window := s.RecencyWindow
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	if window > len(log) {
		window = len(log)
	}

	windowStart := len(log) - window
	remaining := allowance

	// Recency window: walk newest to oldest so that when the window itself
	// overruns the budget, the most recent turns win. A turn that does not
	// fit is excluded outright — it does not re-enter relevance ranking.
	inWindow := make(map[int]bool, window)
	for i := len(log) - 1; i >= windowStart; i-- {
		if log[i].TokenCount > remaining {
			continue
		}
		inWindow[i] = true
		remaining -= log[i].TokenCount
	}

	windowMsgs := make([]Message, 0, len(inWindow))
	for i := windowStart; i < len(log); i++ {
		if inWindow[i] {
			windowMsgs = append(windowMsgs, log[i])
		}
	}

	if queryVec == nil {
		return s.recencyOnly(log, windowStart, windowMsgs, remaining, allowance)
	}

	// Relevance ranking over everything older than the window. Descending
	// cosine similarity; equal scores resolve to the more recent turn so
	// ranking is deterministic for a fixed embedding set.
	type candidate struct {
		seq   int
		score float64
	}
	var ranked []candidate
	for i := 0; i < windowStart; i++ {
		vec, ok := index.Get(i)
		if !ok {
			continue
		}
		ranked = append(ranked, candidate{seq: i, score: embed.Cosine(vec, queryVec)})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].seq > ranked[b].seq
	})

	// Greedy fill, most relevant first. Skip what does not fit and keep
	// going — a further, smaller turn may still fit.
	picked := make([]int, 0, len(ranked))
	for _, c := range ranked {
		if log[c.seq].TokenCount > remaining {
			continue
		}
		picked = append(picked, c.seq)
		remaining -= log[c.seq].TokenCount
	}
	sort.Ints(picked)

	out := windowMsgs
	for _, seq := range picked {
		out = append(out, log[seq])
	}

	return Selection{
		Messages:   out,
		TokenTotal: allowance - remaining,
	}
}

// recencyOnly fills the remaining budget with the most recent pre-window
// messages in reverse-chronological order, stopping when the next one no
// longer fits. The window subset already selected stays in place.
func (s Selector) recencyOnly(log []Message, windowStart int, windowMsgs []Message, remaining, allowance int) Selection {
	var older []Message
	for i := windowStart - 1; i >= 0; i-- {
		if log[i].TokenCount > remaining {
			break
		}
		older = append(older, log[i])
		remaining -= log[i].TokenCount
	}

	// older was collected newest-first; restore chronological order.
	for l, r := 0, len(older)-1; l < r; l, r = l+1, r-1 {
		older[l], older[r] = older[r], older[l]
	}

	return Selection{
		Messages:   append(windowMsgs, older...),
		TokenTotal: allowance - remaining,
		Degraded:   true,
	}
}
