package validate

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesSentinel(t *testing.T) {
	var v Error
	if v.Err() != nil {
		t.Fatal("empty error should be nil")
	}
	v.Add("title", "is required")
	v.Add("max_capacity", "must be positive")

	err := fmt.Errorf("create: %w", v.Err())
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is(ErrValidation)")
	}
	var ve *Error
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("expected two fields, got %+v", ve)
	}
	want := "validation failed: max_capacity: must be positive; title: is required"
	if v.Error() != want {
		t.Fatalf("Error() = %q, want %q", v.Error(), want)
	}
}

func TestField(t *testing.T) {
	err := Field("feedback", "is required")
	if err.Fields["feedback"] != "is required" {
		t.Fatalf("unexpected fields %v", err.Fields)
	}
}
