package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Compactor bounds conversation context to compaction_max_tokens (spec.md
// §6) by replacing all but the last keepRecent messages with a single
// synthetic summary message once the token budget is exceeded. Grounded on
// hector's pluggable HistoryStrategy (pkg/agent/history) and its tiktoken-go
// based token accounting (pkg/utils/tokens.go).
type Compactor struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken

	maxTokens  int
	keepRecent int
}

// NewCompactor builds a Compactor. model selects the tiktoken encoding;
// unknown models fall back to cl100k_base, matching hector's own fallback.
func NewCompactor(model string, maxTokens, keepRecent int) (*Compactor, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: get token encoding: %w", err)
		}
	}
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	if keepRecent <= 0 {
		keepRecent = 4
	}
	return &Compactor{encoding: encoding, maxTokens: maxTokens, keepRecent: keepRecent}, nil
}

// CountTokens returns the token count for text under this Compactor's
// encoding.
func (c *Compactor) CountTokens(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// countMessages totals tokens across messages, including OpenAI's
// role/content framing overhead (same accounting hector uses).
func (c *Compactor) countMessages(messages []Message) int {
	const tokensPerMessage = 3
	total := 3 // reply priming
	for _, m := range messages {
		total += tokensPerMessage
		total += c.CountTokens(m.Role)
		total += c.CountTokens(m.Content)
	}
	return total
}

// Compact returns messages unchanged if they fit within maxTokens;
// otherwise it collapses every message except the last keepRecent into one
// synthetic "assistant" summary message produced by summarize, keeping the
// conversation within budget while preserving recent context verbatim.
func (c *Compactor) Compact(messages []Message, summarize func(dropped []Message) string) []Message {
	if c.countMessages(messages) <= c.maxTokens {
		return messages
	}
	if len(messages) <= c.keepRecent {
		return messages
	}

	splitAt := len(messages) - c.keepRecent
	dropped := messages[:splitAt]
	recent := messages[splitAt:]

	summary := Message{
		Role:    "assistant",
		Content: summarize(dropped),
	}

	compacted := make([]Message, 0, 1+len(recent))
	compacted = append(compacted, summary)
	compacted = append(compacted, recent...)
	return compacted
}
