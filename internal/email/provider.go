package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
	Tags    map[string]string
}

// SendResult reports the outcome of a single provider call. Provider
// failures are data, not errors: callers branch on Success.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ErrorMessage      string
}

// Provider delivers messages to an upstream email API.
type Provider interface {
	Send(ctx context.Context, msg Message) SendResult
	SendBatch(ctx context.Context, msgs []Message) []SendResult
}

// MockProvider records messages in memory. Used in tests and when
// EMAIL_USE_MOCK is set.
type MockProvider struct {
	mu sync.Mutex

	// FailWith, when non-empty, makes every Send fail with that message.
	FailWith string

	sent    []Message
	results []SendResult
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Send(_ context.Context, msg Message) SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != "" {
		res := SendResult{Success: false, ErrorMessage: m.FailWith}
		m.results = append(m.results, res)
		return res
	}

	m.sent = append(m.sent, msg)
	res := SendResult{
		Success:           true,
		ProviderMessageID: fmt.Sprintf("mock_%s", uuid.NewString()[:8]),
	}
	m.results = append(m.results, res)
	return res
}

func (m *MockProvider) SendBatch(ctx context.Context, msgs []Message) []SendResult {
	return sendSequential(ctx, m, msgs)
}

func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.results = nil
	m.FailWith = ""
}

func sendSequential(ctx context.Context, p Provider, msgs []Message) []SendResult {
	out := make([]SendResult, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, p.Send(ctx, msg))
	}
	return out
}
