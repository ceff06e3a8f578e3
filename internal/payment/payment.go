// Package payment defines the payment collaborator consumed by the escrow
// workflow: capture before the safe period starts, refund on disputed or
// redeemed outcomes. The engine never implements settlement itself.
package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Provider captures and refunds payments. The reference is the transaction ID,
// optionally suffixed (e.g. "txn_x/protection") to distinguish plan purchases
// from the sale itself.
type Provider interface {
	Capture(ctx context.Context, reference, amount string) error
	Refund(ctx context.Context, reference, amount string) error
}

// MinorUnits converts a decimal amount string ("120.50") to minor currency
// units (12050). At most two decimal places are accepted.
func MinorUnits(amount string) (int64, error) {
	s := strings.TrimSpace(amount)
	whole, frac, found := strings.Cut(s, ".")
	if whole == "" || (found && frac == "") {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	var cents int64
	if found {
		if len(frac) > 2 {
			return 0, fmt.Errorf("amount %q has more than two decimal places", amount)
		}
		for len(frac) < 2 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", amount)
		}
	}
	total := units*100 + cents
	if total <= 0 {
		return 0, fmt.Errorf("amount %q must be positive", amount)
	}
	return total, nil
}
