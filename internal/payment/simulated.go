package payment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulated approves charges with a fixed probability. It is the default
// gateway outside production and the gateway used by tests.
type Simulated struct {
	mu           sync.Mutex
	approvalRate float64
	rnd          *rand.Rand
	captured     map[string]*Receipt
	refunded     map[string]bool
	now          func() time.Time
}

func NewSimulated(approvalRate float64) *Simulated {
	return &Simulated{
		approvalRate: approvalRate,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		captured:     map[string]*Receipt{},
		refunded:     map[string]bool{},
		now:          time.Now,
	}
}

func (s *Simulated) Charge(ctx context.Context, req ChargeRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rnd.Float64() >= s.approvalRate {
		return nil, ErrDeclined
	}

	receipt := &Receipt{
		ExternalRef: "SIM-" + uuid.NewString(),
		Amount:      req.Amount,
		CapturedAt:  s.now().UTC(),
	}
	s.captured[receipt.ExternalRef] = receipt
	return receipt, nil
}

func (s *Simulated) Refund(ctx context.Context, receipt *Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.captured[receipt.ExternalRef]; !ok {
		return fmt.Errorf("refund %s: unknown payment", receipt.ExternalRef)
	}
	if s.refunded[receipt.ExternalRef] {
		return fmt.Errorf("refund %s: already refunded", receipt.ExternalRef)
	}
	s.refunded[receipt.ExternalRef] = true
	return nil
}

// Refunded reports whether ref was refunded.
func (s *Simulated) Refunded(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunded[ref]
}

// Captured returns the number of charges approved so far.
func (s *Simulated) Captured() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captured)
}
