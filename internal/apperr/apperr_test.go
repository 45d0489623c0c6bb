package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappers(t *testing.T) {
	nf := NotFound("credential")
	if !errors.Is(nf, ErrNotFound) {
		t.Error("NotFound does not wrap ErrNotFound")
	}
	if nf.Error() != "credential not found" {
		t.Errorf("NotFound message = %q", nf.Error())
	}

	fb := Forbidden("sub-reseller may only create for its own clients")
	if !errors.Is(fb, ErrForbidden) {
		t.Error("Forbidden does not wrap ErrForbidden")
	}
	if Forbidden("") != ErrForbidden {
		t.Error("empty reason should return ErrForbidden itself")
	}

	v := fmt.Errorf("create: %w", Invalid("max_connections", "must be at least %d", 1))
	if !IsValidation(v) {
		t.Error("IsValidation missed wrapped validation error")
	}
	if IsValidation(nf) {
		t.Error("IsValidation matched a not-found error")
	}
}
