// Package payment is the boundary to the external payment processor. The
// engine charges once per write and never retries a charge on its own.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/database"
	"github.com/shopspring/decimal"
)

// ErrDeclined is returned by gateways when the processor rejects a charge.
var ErrDeclined = errors.New("payment declined by processor")

// ChargeRequest describes one capture.
type ChargeRequest struct {
	Amount decimal.Decimal
	// Reference is our own idempotency/reconciliation token sent to the
	// processor as the external reference.
	Reference   string
	Description string
}

// Receipt identifies a captured charge at the processor.
type Receipt struct {
	ExternalRef string
	Amount      decimal.Decimal
	CapturedAt  time.Time
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Receipt, error)
	Refund(ctx context.Context, receipt *Receipt) error
}

// NoChargePrefix marks receipts of zero amounts, which never reach the
// processor.
const NoChargePrefix = "NOCHARGE-"

// Charge calls gw with a deadline of timeout. A decline, a timeout or any
// processor failure surfaces as database.ErrPaymentDeclined so that the
// caller aborts without touching local state. A zero amount (a fully
// discounted quotation) is settled locally without calling gw.
func Charge(ctx context.Context, gw Gateway, timeout time.Duration, req ChargeRequest) (*Receipt, error) {
	if req.Amount.IsNegative() {
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("charge amount must not be negative, got %s", req.Amount.StringFixed(2)))
	}
	if req.Amount.IsZero() {
		return &Receipt{
			ExternalRef: NoChargePrefix + req.Reference,
			Amount:      decimal.Zero,
			CapturedAt:  time.Now().UTC(),
		}, nil
	}

	chargeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := gw.Charge(chargeCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: charge %s: %v", database.ErrPaymentDeclined, req.Reference, err)
	}
	return receipt, nil
}
