package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/refund"
	"github.com/safar/flycar/internal/logger"
)

var ErrMissingMercadoPagoAccessToken = errors.New("missing MERCADOPAGO_ACCESS_TOKEN")

const statusApproved = "approved"

type MercadoPagoOptions struct {
	AccessToken     string
	PaymentMethodID string
	PayerEmail      string
}

// MercadoPago captures charges through the Mercado Pago payments API and
// refunds them in full.
type MercadoPago struct {
	payments payment.Client
	refunds  refund.Client
	opts     MercadoPagoOptions
	log      *logger.Logger
}

func NewMercadoPago(opts MercadoPagoOptions, log *logger.Logger) (*MercadoPago, error) {
	if opts.AccessToken == "" {
		return nil, ErrMissingMercadoPagoAccessToken
	}
	if log == nil {
		log = logger.Nop()
	}

	cfg, err := config.New(opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create mercado pago config: %w", err)
	}

	return &MercadoPago{
		payments: payment.NewClient(cfg),
		refunds:  refund.NewClient(cfg),
		opts:     opts,
		log:      log,
	}, nil
}

func (g *MercadoPago) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	amount, _ := req.Amount.Float64()

	request := payment.Request{
		TransactionAmount: amount,
		PaymentMethodID:   g.opts.PaymentMethodID,
		Description:       req.Description,
		ExternalReference: req.Reference,
		Payer: &payment.PayerRequest{
			Email: g.opts.PayerEmail,
		},
	}

	resp, err := g.payments.Create(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("mercado pago create payment: %w", err)
	}

	ctx = g.log.WithFields(ctx, map[string]any{
		"provider_payment_id": resp.ID,
		"provider_status":     resp.Status,
		"reference":           req.Reference,
	})
	if resp.Status != statusApproved {
		g.log.Warn(ctx, "mercado pago payment not approved")
		return nil, fmt.Errorf("%w: status %s (%s)", ErrDeclined, resp.Status, resp.StatusDetail)
	}
	g.log.Info(ctx, "mercado pago payment approved")

	return &Receipt{
		ExternalRef: strconv.Itoa(resp.ID),
		Amount:      req.Amount,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

func (g *MercadoPago) Refund(ctx context.Context, receipt *Receipt) error {
	id, err := strconv.Atoi(receipt.ExternalRef)
	if err != nil {
		return fmt.Errorf("parse mercado pago payment id %q: %w", receipt.ExternalRef, err)
	}

	resp, err := g.refunds.Create(ctx, id)
	if err != nil {
		return fmt.Errorf("mercado pago refund %d: %w", id, err)
	}

	g.log.Info(g.log.WithFields(ctx, map[string]any{
		"provider_payment_id": id,
		"refund_id":           resp.ID,
		"refund_status":       resp.Status,
	}), "mercado pago refund created")
	return nil
}
