package conductor

import "github.com/bazelment/agentdeck/protocol"

// TokenCounts holds the four usage counters for a turn or a session.
// Values are non-negative; the zero value is the additive identity.
type TokenCounts struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

// Add returns the pointwise sum. Commutative and associative.
func (t TokenCounts) Add(o TokenCounts) TokenCounts {
	return TokenCounts{
		Input:         t.Input + o.Input,
		Output:        t.Output + o.Output,
		CacheCreation: t.CacheCreation + o.CacheCreation,
		CacheRead:     t.CacheRead + o.CacheRead,
	}
}

// IsEmpty reports whether all four counters are zero.
func (t TokenCounts) IsEmpty() bool {
	return t == TokenCounts{}
}

// Total returns the sum of all four counters.
func (t TokenCounts) Total() int {
	return t.Input + t.Output + t.CacheCreation + t.CacheRead
}

// countsFromUsage converts wire usage into TokenCounts.
func countsFromUsage(u protocol.Usage) TokenCounts {
	return TokenCounts{
		Input:         u.InputTokens,
		Output:        u.OutputTokens,
		CacheCreation: u.CacheCreationInputTokens,
		CacheRead:     u.CacheReadInputTokens,
	}
}

// usageMeter tracks session-cumulative usage plus the live
// current-response output counter that drives token tickers in
// observers without re-deriving from the transcript. Guarded by the
// conductor mutex.
type usageMeter struct {
	session         TokenCounts
	costUSD         float64
	currentResponse int
}

// onResponseUsage folds one assistant message's output tokens into the
// live counter. isNewMessage marks the turn's first message and resets
// the counter; later messages of the same turn accumulate.
func (m *usageMeter) onResponseUsage(u protocol.Usage, isNewMessage bool) {
	if isNewMessage {
		m.currentResponse = 0
	}
	m.currentResponse += u.OutputTokens
}

// onTurnComplete folds a finished turn's totals into the session.
func (m *usageMeter) onTurnComplete(turn TokenCounts, costUSD float64) {
	m.session = m.session.Add(turn)
	m.costUSD += costUSD
}
