package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestTransitionsTotal_Increments(t *testing.T) {
	TransitionsTotal.Reset()

	TransitionsTotal.WithLabelValues("safe_period").Inc()
	TransitionsTotal.WithLabelValues("safe_period").Inc()
	TransitionsTotal.WithLabelValues("released").Inc()

	m := &dto.Metric{}
	counter, err := TransitionsTotal.GetMetricWithLabelValues("safe_period")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
