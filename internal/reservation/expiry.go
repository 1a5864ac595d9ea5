package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/inventory"
	"github.com/safar/flycar/internal/models"
	"github.com/safar/flycar/internal/store"
	"go.uber.org/multierr"
)

// expire loads reservation id and, when it is ACTIVA past its expiry,
// persists VENCIDA and releases its units in its own transaction. It returns
// the reservation as it stands afterwards.
func (m *Manager) expire(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	r, err := store.GetReservation(ctx, m.db, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if r.State != models.ReservationActive || !now.After(r.ExpiresAt) {
		return r, nil
	}

	err = database.WithRetry(ctx, m.db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.LockReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		if locked.State != models.ReservationActive || !now.After(locked.ExpiresAt) {
			r = locked
			return nil
		}
		if err := expireLocked(ctx, tx, locked, now); err != nil {
			return err
		}
		r, err = store.GetReservation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("expire reservation %s: %w", id, err)
	}

	if r.State == models.ReservationExpired {
		m.metrics.AddExpired(1)
		m.log.Info(m.log.WithField(ctx, "reservation_id", id), "reservation expired")
	}
	return r, nil
}

// ExpireQuotation expires the reservation of quotationID, if it has one and
// it is due. Other writers of a quotation call it before reading.
func (m *Manager) ExpireQuotation(ctx context.Context, quotationID uuid.UUID) error {
	r, err := store.GetReservationByQuotation(ctx, m.db, quotationID)
	if errors.Is(err, database.ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = m.expire(ctx, r.ID)
	return err
}

func expireLocked(ctx context.Context, tx database.Querier, r *models.Reservation, now time.Time) error {
	q, err := store.GetQuotation(ctx, tx, r.QuotationID)
	if err != nil {
		return err
	}
	if err := store.CloseReservation(ctx, tx, r.ID, models.ReservationExpired, now); err != nil {
		return err
	}
	return inventory.Release(ctx, tx, q.UnitIDs(), r.ID, now)
}

// ExpireDue claims up to limit due reservations, skipping rows other
// workers hold, and expires each one. A reservation that fails is rolled
// back to its savepoint and reported; the rest of the batch still commits.
func (m *Manager) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := m.clock.Now()
	expired := 0
	var failures error

	err := database.WithTransaction(ctx, m.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		expired, failures = 0, nil

		due, err := store.LockDueReservations(ctx, tx, now, limit)
		if err != nil {
			return err
		}

		for i := range due {
			r := &due[i]
			if _, err := tx.ExecContext(ctx, "SAVEPOINT expire_reservation"); err != nil {
				return fmt.Errorf("savepoint: %w", err)
			}
			if err := expireLocked(ctx, tx, r, now); err != nil {
				failures = multierr.Append(failures, fmt.Errorf("reservation %s: %w", r.ID, err))
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT expire_reservation"); rbErr != nil {
					return fmt.Errorf("rollback to savepoint: %w", rbErr)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT expire_reservation"); err != nil {
				return fmt.Errorf("release savepoint: %w", err)
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.metrics.AddExpired(expired)
	if expired > 0 {
		m.log.Info(m.log.WithField(ctx, "expired", expired), "due reservations expired")
	}
	return expired, failures
}

// Sweep runs ExpireDue in batches of batchSize until no due reservation is
// left or a batch makes no progress.
func (m *Manager) Sweep(ctx context.Context, batchSize int) (int, error) {
	total := 0
	var errs error

	for {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(errs, err)
		}

		n, err := m.ExpireDue(ctx, batchSize)
		total += n
		errs = multierr.Append(errs, err)

		if n < batchSize {
			return total, errs
		}
	}
}
