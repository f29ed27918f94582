package controls

import "errors"

// Validation failures. They are returned wrapped in a faults.Validation
// error naming the control, so callers test them with errors.Is.
var (
	ErrUnknownControl      = errors.New("unknown control")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrCardinalityMismatch = errors.New("cardinality mismatch")
	ErrOutOfRange          = errors.New("value out of range")
	ErrInvalidMode         = errors.New("invalid mode")
)

// Discovery failures
var (
	ErrBoundsShapeMismatch = errors.New("minimum and maximum element counts differ")
)
