package payment

import (
	"context"
	"errors"
	"testing"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
		ok     bool
	}{
		{"120", 12000, true},
		{"120.50", 12050, true},
		{"120.5", 12050, true},
		{"0.01", 1, true},
		{"499.00", 49900, true},
		{"0", 0, false},
		{"0.00", 0, false},
		{"-5", 0, false},
		{"1.234", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"12.", 0, false},
	}

	for _, tt := range tests {
		got, err := MinorUnits(tt.amount)
		if tt.ok {
			if err != nil {
				t.Errorf("MinorUnits(%q) error: %v", tt.amount, err)
			} else if got != tt.want {
				t.Errorf("MinorUnits(%q) = %d, want %d", tt.amount, got, tt.want)
			}
		} else if err == nil {
			t.Errorf("MinorUnits(%q) = %d, want error", tt.amount, got)
		}
	}
}

func TestMockProvider_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()

	if err := m.Capture(ctx, "txn_1", "150.00"); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if amount, ok := m.Captured("txn_1"); !ok || amount != "150.00" {
		t.Errorf("Captured = %q, %v", amount, ok)
	}

	if err := m.Refund(ctx, "txn_1", "150.00"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if amount, ok := m.Refunded("txn_1"); !ok || amount != "150.00" {
		t.Errorf("Refunded = %q, %v", amount, ok)
	}
}

func TestMockProvider_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider()
	m.CaptureErr = errors.New("card declined")

	if err := m.Capture(ctx, "txn_1", "150.00"); err == nil {
		t.Fatal("expected injected capture error")
	}
	if _, ok := m.Captured("txn_1"); ok {
		t.Error("failed capture must not be recorded")
	}
}
