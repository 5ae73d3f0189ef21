// README: Stripe PaymentIntent confirmation for credit and subscription purchases.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"zemi/internal/types"
)

// MetadataActorID is the PaymentIntent metadata key naming the user the
// payment was created for.
const MetadataActorID = "actor_id"

// Confirmation is what the payment provider reports for a reference.
type Confirmation struct {
	Reference string
	// ActorID is the user the payment was created for; empty when unknown.
	ActorID   types.ID
	Amount    decimal.Decimal
	Currency  string
	Succeeded bool
}

type Confirmer interface {
	Confirm(ctx context.Context, reference string) (*Confirmation, error)
}

// zeroDecimal lists currencies Stripe bills in whole units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// FromMinorUnits converts a Stripe amount into the currency's major unit.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	d := decimal.NewFromInt(amount)
	if zeroDecimal[strings.ToUpper(currency)] {
		return d
	}
	return d.Shift(-2)
}

type StripeConfirmer struct {
	api *client.API
}

func NewStripeConfirmer(secretKey string) *StripeConfirmer {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeConfirmer{api: sc}
}

func (s *StripeConfirmer) Confirm(ctx context.Context, reference string) (*Confirmation, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", reference, err)
	}
	received := pi.AmountReceived
	if received == 0 {
		received = pi.Amount
	}
	currency := strings.ToUpper(string(pi.Currency))
	return &Confirmation{
		Reference: pi.ID,
		ActorID:   types.ID(pi.Metadata[MetadataActorID]),
		Amount:    FromMinorUnits(received, currency),
		Currency:  currency,
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
	}, nil
}
