package llm

import (
	"context"
	"sync"
)

// MockChat is a test implementation of Chat. Each call returns the next
// configured response; once exhausted, the last response repeats. All calls
// are recorded for assertion.
type MockChat struct {
	Responses []string
	Err       error

	mu    sync.Mutex
	calls [][]Message
	index int
}

// Complete implements Chat.
func (m *MockChat) Complete(ctx context.Context, messages []Message) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)

	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", nil
	}

	idx := m.index
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.index++
	}
	return m.Responses[idx], nil
}

// CallCount returns how many times Complete has been called.
func (m *MockChat) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the recorded conversations.
func (m *MockChat) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears history and restarts the response sequence.
func (m *MockChat) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.index = 0
}
