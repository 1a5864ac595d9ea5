package payment

import (
	"context"
	"time"

	"github.com/safar/flycar/internal/clock"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
	"github.com/safar/flycar/internal/metrics"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/store"
)

// Compensator undoes a captured charge whose owning write never committed:
// it refunds the charge and records a reconciliation event either way.
type Compensator struct {
	gateway Gateway
	db      database.Querier
	clock   clock.Clock
	log     *logger.Logger
	metrics *metrics.EngineMetrics
	timeout time.Duration
}

func NewCompensator(gateway Gateway, db database.Querier, clk clock.Clock, log *logger.Logger, m *metrics.EngineMetrics, timeout time.Duration) *Compensator {
	if log == nil {
		log = logger.Nop()
	}
	return &Compensator{
		gateway: gateway,
		db:      db,
		clock:   clk,
		log:     log,
		metrics: m,
		timeout: timeout,
	}
}

// Compensate refunds receipt after operation failed with cause. It runs
// detached from ctx's cancellation so an aborted request still refunds.
func (c *Compensator) Compensate(ctx context.Context, operation string, receipt *Receipt, cause error) {
	ctx, cancel := c.detach(ctx, operation, receipt)
	defer cancel()

	if !captured(receipt) {
		c.log.Warn(ctx, "write failed, nothing was charged")
		return
	}

	refundErr := c.gateway.Refund(ctx, receipt)
	refunded := refundErr == nil
	if refunded {
		c.log.Error(ctx, "write failed after capture, payment refunded", cause)
	} else {
		c.log.Error(ctx, "CRITICAL: write failed after capture and refund failed", refundErr)
	}
	c.record(ctx, operation, receipt, refunded, errorText(cause, refundErr))
}

// Refund returns a payment whose owner was cancelled. A failed refund is
// logged and recorded for reconciliation, then returned.
func (c *Compensator) Refund(ctx context.Context, operation string, receipt *Receipt) error {
	ctx, cancel := c.detach(ctx, operation, receipt)
	defer cancel()

	if !captured(receipt) {
		return nil
	}

	if err := c.gateway.Refund(ctx, receipt); err != nil {
		c.log.Error(ctx, "refund failed", err)
		c.record(ctx, operation, receipt, false, errorText(nil, err))
		return err
	}
	c.log.Info(ctx, "payment refunded")
	return nil
}

func (c *Compensator) detach(ctx context.Context, operation string, receipt *Receipt) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	ctx = c.log.WithFields(ctx, map[string]any{
		"operation":    operation,
		"external_ref": receipt.ExternalRef,
		"amount":       receipt.Amount.StringFixed(2),
	})
	return ctx, cancel
}

func (c *Compensator) record(ctx context.Context, operation string, receipt *Receipt, refunded bool, text string) {
	c.metrics.IncReconciliation(operation, refunded)

	event := &models.ReconciliationEvent{
		Operation:   operation,
		ExternalRef: receipt.ExternalRef,
		Amount:      receipt.Amount,
		Refunded:    refunded,
		Error:       text,
		CreatedAt:   c.clock.Now(),
	}
	if err := store.RecordReconciliation(ctx, c.db, event); err != nil {
		c.log.Error(ctx, "CRITICAL: failed to persist reconciliation event", err)
	}
}

// captured reports whether receipt moved money at the processor.
func captured(receipt *Receipt) bool {
	return receipt.Amount.IsPositive()
}

func errorText(cause, refundErr error) string {
	text := ""
	if cause != nil {
		text = cause.Error()
	}
	if refundErr != nil {
		if text != "" {
			text += "; "
		}
		text += "refund: " + refundErr.Error()
	}
	return text
}
