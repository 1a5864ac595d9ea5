package database_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/lib/pq"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/testutil"
)

func TestExhaustedRetriesBecomeConflict(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	attempts := 0
	opts := database.SerializableTxOptions()
	opts.MaxRetries = 2

	err := database.WithRetry(ctx, db, opts, func(tx *sql.Tx) error {
		attempts++
		return &pq.Error{Code: "40001"}
	})
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if apperr.CodeOf(err) != apperr.CodeInternal {
		t.Errorf("Expected raw exhaustion to be internal, got: %v", err)
	}

	err = database.ConflictOnContention(err, database.ErrUnitUnavailable)
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Errorf("Expected conflict after mapping, got: %v", err)
	}
}
