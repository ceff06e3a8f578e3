package protection

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestPurchase_ActivatesPlan(t *testing.T) {
	r, err := Purchase("usr_buyer", "499.00", 0, t0)
	if err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}
	if r.Status != StatusActive {
		t.Errorf("expected active, got %s", r.Status)
	}
	if r.DurationDays != DefaultDurationDays {
		t.Errorf("expected default %d days, got %d", DefaultDurationDays, r.DurationDays)
	}
	if want := t0.Add(10 * 24 * time.Hour); !r.Expiry().Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, r.Expiry())
	}
}

func TestPurchase_RejectsNegativeDuration(t *testing.T) {
	if _, err := Purchase("usr_buyer", "499.00", -1, t0); err != ErrInvalidDuration {
		t.Errorf("Purchase(-1) = %v, want ErrInvalidDuration", err)
	}
}

func TestRedeem_Boundary(t *testing.T) {
	expiry := t0.Add(10 * 24 * time.Hour)

	// One millisecond before expiry: redemption succeeds.
	r, _ := Purchase("usr_buyer", "499.00", 10, t0)
	if err := r.Redeem(expiry.Add(-time.Millisecond)); err != nil {
		t.Fatalf("Redeem just before expiry failed: %v", err)
	}
	if r.Status != StatusRedeemed || r.RedeemedAt == nil {
		t.Error("expected redeemed status with timestamp")
	}

	// Exactly at expiry: disallowed.
	r, _ = Purchase("usr_buyer", "499.00", 10, t0)
	if err := r.Redeem(expiry); err != ErrPlanExpired {
		t.Errorf("Redeem at expiry = %v, want ErrPlanExpired", err)
	}

	// Past expiry: disallowed.
	r, _ = Purchase("usr_buyer", "499.00", 10, t0)
	if err := r.Redeem(expiry.Add(time.Hour)); err != ErrPlanExpired {
		t.Errorf("Redeem past expiry = %v, want ErrPlanExpired", err)
	}
}

func TestRedeem_TenDayScenario(t *testing.T) {
	r, _ := Purchase("usr_buyer", "499.00", 10, t0)

	at := t0.Add(9*24*time.Hour + 23*time.Hour + 59*time.Minute)
	if err := r.Redeem(at); err != nil {
		t.Errorf("Redeem at T0+9d23h59m failed: %v", err)
	}

	r, _ = Purchase("usr_buyer", "499.00", 10, t0)
	if err := r.Redeem(t0.Add(10 * 24 * time.Hour)); err != ErrPlanExpired {
		t.Errorf("Redeem at T0+10d = %v, want ErrPlanExpired", err)
	}
}

func TestRedeem_TerminalStatuses(t *testing.T) {
	r, _ := Purchase("usr_buyer", "499.00", 10, t0)
	_ = r.Redeem(t0.Add(time.Hour))
	if err := r.Redeem(t0.Add(2 * time.Hour)); err != ErrPlanNotActive {
		t.Errorf("Redeem on redeemed plan = %v, want ErrPlanNotActive", err)
	}

	r, _ = Purchase("usr_buyer", "499.00", 10, t0)
	_ = r.MarkExpired(t0.Add(11 * 24 * time.Hour))
	if err := r.Redeem(t0.Add(11 * 24 * time.Hour)); err != ErrPlanExpired {
		t.Errorf("Redeem on expired plan = %v, want ErrPlanExpired", err)
	}
}

func TestMarkExpired(t *testing.T) {
	r, _ := Purchase("usr_buyer", "499.00", 10, t0)

	// Still inside the window: nothing to expire.
	if err := r.MarkExpired(t0.Add(24 * time.Hour)); err != ErrPlanNotActive {
		t.Errorf("MarkExpired inside window = %v, want ErrPlanNotActive", err)
	}

	if err := r.MarkExpired(t0.Add(10 * 24 * time.Hour)); err != nil {
		t.Fatalf("MarkExpired at boundary failed: %v", err)
	}
	if r.Status != StatusExpired || r.ExpiredAt == nil {
		t.Error("expected expired status with timestamp")
	}

	// Terminal: a second application fails.
	if err := r.MarkExpired(t0.Add(11 * 24 * time.Hour)); err != ErrPlanNotActive {
		t.Errorf("MarkExpired on expired plan = %v, want ErrPlanNotActive", err)
	}
}

func TestLapsed_PureQuery(t *testing.T) {
	r, _ := Purchase("usr_buyer", "499.00", 10, t0)

	if r.Lapsed(t0.Add(5 * 24 * time.Hour)) {
		t.Error("expected not lapsed mid-window")
	}
	if !r.Lapsed(t0.Add(10 * 24 * time.Hour)) {
		t.Error("expected lapsed at expiry")
	}
	if r.Status != StatusActive {
		t.Error("Lapsed must not mutate status")
	}
}
