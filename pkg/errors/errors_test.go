package errors_test

import (
	"errors"
	"fmt"
	"testing"

	appErr "ludo-service/pkg/errors"
)

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("move: %w", appErr.ErrIllegalMove)
	if !appErr.IsRejected(wrapped) {
		t.Fatalf("expected wrapped illegal move to be rejected")
	}
	if appErr.IsTransient(wrapped) {
		t.Fatalf("rejected errors are not transient")
	}
	if !appErr.IsInvariant(fmt.Errorf("seat 1: %w", appErr.ErrReservationShortfall)) {
		t.Fatalf("expected shortfall to be an invariant violation")
	}
	if !appErr.IsTransient(errors.New("connection reset")) {
		t.Fatalf("expected unknown errors to be transient")
	}
	if appErr.IsTransient(nil) {
		t.Fatalf("nil is not transient")
	}
}
