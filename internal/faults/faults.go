// Package faults classifies capture errors by how far they are allowed to
// propagate.
//
// Anything discovered before requests are queued to hardware escalates to a
// full teardown of the capture session. Anything discovered per frame after
// queuing is contained to that frame.
package faults

import (
	"errors"
	"fmt"
)

// Category represents the classification of a capture error
type Category int

const (
	// CategoryConfiguration indicates a bad or unsupported format, resolution
	// or device selector
	CategoryConfiguration Category = iota
	// CategoryAcquisition indicates the device is busy, unavailable or refused
	// to configure/start
	CategoryAcquisition
	// CategoryValidation indicates a control value that cannot be committed
	CategoryValidation
	// CategoryBuffer indicates an invalid plane layout or a mapping failure
	CategoryBuffer
	// CategoryRuntimeFrame indicates a single frame could not be emitted
	CategoryRuntimeFrame
)

// String returns a human-readable string representation of the category
func (c Category) String() string {
	switch c {
	case CategoryConfiguration:
		return "configuration"
	case CategoryAcquisition:
		return "acquisition"
	case CategoryValidation:
		return "validation"
	case CategoryBuffer:
		return "buffer"
	case CategoryRuntimeFrame:
		return "runtime-frame"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this category abort the capture session.
func (c Category) Fatal() bool {
	switch c {
	case CategoryValidation, CategoryRuntimeFrame:
		return false
	default:
		return true
	}
}

// Error is a categorized error naming the parameter or resource at fault.
type Error struct {
	Category Category
	// Subject names the parameter or resource at fault (e.g. "pixel_format",
	// "buffer 3", "ExposureTime").
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s error: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s error [%s]: %v", e.Category, e.Subject, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err into a categorized error.
func New(c Category, subject string, err error) error {
	return &Error{Category: c, Subject: subject, Err: err}
}

// Configuration is shorthand for New(CategoryConfiguration, ...).
func Configuration(subject string, err error) error {
	return New(CategoryConfiguration, subject, err)
}

// Acquisition is shorthand for New(CategoryAcquisition, ...).
func Acquisition(subject string, err error) error {
	return New(CategoryAcquisition, subject, err)
}

// Validation is shorthand for New(CategoryValidation, ...).
func Validation(subject string, err error) error {
	return New(CategoryValidation, subject, err)
}

// Buffer is shorthand for New(CategoryBuffer, ...).
func Buffer(subject string, err error) error {
	return New(CategoryBuffer, subject, err)
}

// RuntimeFrame is shorthand for New(CategoryRuntimeFrame, ...).
func RuntimeFrame(subject string, err error) error {
	return New(CategoryRuntimeFrame, subject, err)
}

// CategoryOf returns the category of the first *Error in err's chain.
// ok is false when err carries no category.
func CategoryOf(err error) (c Category, ok bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category, true
	}
	return 0, false
}

// IsFatal reports whether err must abort the capture session. Uncategorized
// errors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	c, ok := CategoryOf(err)
	if !ok {
		return true
	}
	return c.Fatal()
}

// SubjectOf returns the subject of the first *Error in err's chain.
func SubjectOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Subject
	}
	return ""
}
