package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"finmirror/internal/domain/transaction"
)

// integrity_constraint_violation: unique, foreign key, not null, check
const classIntegrityConstraint = "23"

func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code.Class() == classIntegrityConstraint
}

// mapWriteError turns SQLSTATE class 23 failures into ErrConstraintViolation
// and wraps everything else with op.
func mapWriteError(op string, err error) error {
	if isConstraintViolation(err) {
		var pqErr *pq.Error
		errors.As(err, &pqErr)
		return fmt.Errorf("%s: %w (%s: %s)", op, transaction.ErrConstraintViolation, pqErr.Constraint, pqErr.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}
