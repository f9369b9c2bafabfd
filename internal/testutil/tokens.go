package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens returns predetermined attempt tokens in order, enabling
// deterministic golden traces and journal assertions.
//
// Thread-safe via internal mutex.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator that returns tokens in order.
// Once the list is exhausted, it keeps generating "attempt-N" tokens
// so long tests do not have to pre-count their saves.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx++
	if g.idx <= len(g.tokens) {
		return g.tokens[g.idx-1]
	}
	return fmt.Sprintf("attempt-%d", g.idx)
}
