// Package budget estimates prompt sizes in tokens. Because the generator
// supports several LLM backends with different tokenizers, it uses a
// conservative character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models (Llama 3 8B, GPT-3.5) with room left for the answer.
	DefaultMaxContextTokens = 6000

	// messageOverhead is the per-message framing cost most chat APIs add.
	messageOverhead = 4
)

// ErrOverBudget is returned by Check when messages do not fit.
var ErrOverBudget = errors.New("budget: prompt exceeds the context budget")

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs, summing
// role, content and a fixed per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Check reports ErrOverBudget, with the estimate, when msgs exceed maxTokens.
// A non-positive maxTokens disables the check.
func Check(msgs []*schema.Message, maxTokens int) error {
	if maxTokens <= 0 {
		return nil
	}
	if n := EstimateMessages(msgs); n > maxTokens {
		return fmt.Errorf("%w: ~%d tokens, limit %d", ErrOverBudget, n, maxTokens)
	}
	return nil
}
