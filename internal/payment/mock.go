package payment

import (
	"context"
	"sync"
)

// MockProvider records captures and refunds in memory. Used in development
// mode (no STRIPE_SECRET_KEY) and in tests.
type MockProvider struct {
	mu         sync.Mutex
	captured   map[string]string // reference -> amount
	refunded   map[string]string
	CaptureErr error // when set, Capture fails with this error
	RefundErr  error
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		captured: make(map[string]string),
		refunded: make(map[string]string),
	}
}

func (m *MockProvider) Capture(ctx context.Context, reference, amount string) error {
	if _, err := MinorUnits(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CaptureErr != nil {
		return m.CaptureErr
	}
	m.captured[reference] = amount
	return nil
}

func (m *MockProvider) Refund(ctx context.Context, reference, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefundErr != nil {
		return m.RefundErr
	}
	m.refunded[reference] = amount
	return nil
}

// Captured returns the captured amount for a reference, if any.
func (m *MockProvider) Captured(reference string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.captured[reference]
	return amount, ok
}

// Refunded returns the refunded amount for a reference, if any.
func (m *MockProvider) Refunded(reference string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.refunded[reference]
	return amount, ok
}
