package faults

import (
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("sentinel")

func TestFatal(t *testing.T) {
	tests := []struct {
		category Category
		fatal    bool
		name     string
	}{
		{CategoryConfiguration, true, "configuration"},
		{CategoryAcquisition, true, "acquisition"},
		{CategoryValidation, false, "validation"},
		{CategoryBuffer, true, "buffer"},
		{CategoryRuntimeFrame, false, "runtime-frame"},
		{Category(99), true, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.category.Fatal(); got != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.fatal)
			}
			if got := tt.category.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestWrapped(t *testing.T) {
	err := fmt.Errorf("session: open: %w", Buffer("buffer 3", errSentinel))

	if !errors.Is(err, errSentinel) {
		t.Error("sentinel lost through the fault wrapper")
	}
	if c, ok := CategoryOf(err); !ok || c != CategoryBuffer {
		t.Errorf("CategoryOf = %v %v", c, ok)
	}
	if s := SubjectOf(err); s != "buffer 3" {
		t.Errorf("SubjectOf = %q", s)
	}
	if !IsFatal(err) {
		t.Error("buffer fault should be fatal")
	}
}

func TestUncategorized(t *testing.T) {
	if IsFatal(nil) {
		t.Error("nil is not fatal")
	}
	if !IsFatal(errSentinel) {
		t.Error("uncategorized errors are fatal")
	}
	if _, ok := CategoryOf(errSentinel); ok {
		t.Error("uncategorized error reported a category")
	}
	if s := SubjectOf(errSentinel); s != "" {
		t.Errorf("SubjectOf = %q", s)
	}
}

func ExampleValidation() {
	err := Validation("ExposureTime", errors.New("50 below minimum 100"))
	fmt.Println(err)
	fmt.Println(IsFatal(err))
	// Output:
	// validation error [ExposureTime]: 50 below minimum 100
	// false
}
