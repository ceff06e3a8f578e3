package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
)

// StripeProvider captures and refunds payments through Stripe PaymentIntents.
// Captured intent IDs are remembered per reference so refunds can target the
// original intent.
type StripeProvider struct {
	intents sync.Map // reference -> payment intent ID
}

// NewStripeProvider configures the Stripe client with the given secret key.
func NewStripeProvider(secretKey string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{}
}

func (p *StripeProvider) Capture(ctx context.Context, reference, amount string) error {
	minor, err := MinorUnits(amount)
	if err != nil {
		return err
	}

	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(string(stripe.CurrencyINR)),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.AddMetadata("reference", reference)

	pi, err := paymentintent.New(params)
	if err != nil {
		return fmt.Errorf("stripe capture for %s: %w", reference, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("stripe capture for %s: intent status %s", reference, pi.Status)
	}

	p.intents.Store(reference, pi.ID)
	return nil
}

func (p *StripeProvider) Refund(ctx context.Context, reference, amount string) error {
	intentID, ok := p.intents.Load(reference)
	if !ok {
		return fmt.Errorf("stripe refund for %s: no captured payment intent", reference)
	}

	minor, err := MinorUnits(amount)
	if err != nil {
		return err
	}

	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(intentID.(string)),
		Amount:        stripe.Int64(minor),
	}
	params.AddMetadata("reference", reference)

	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("stripe refund for %s: %w", reference, err)
	}
	return nil
}
