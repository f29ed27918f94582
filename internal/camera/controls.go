package camera

import (
	"fmt"
	"strconv"
	"strings"
)

// ControlType identifies the value type of a device control
type ControlType int

const (
	ControlTypeNone ControlType = iota
	ControlTypeBool
	ControlTypeByte
	ControlTypeInteger32
	ControlTypeInteger64
	ControlTypeFloat
	ControlTypeString
	ControlTypeRectangle
	ControlTypeSize
)

// String returns a human-readable string representation of the control type
func (t ControlType) String() string {
	switch t {
	case ControlTypeNone:
		return "none"
	case ControlTypeBool:
		return "bool"
	case ControlTypeByte:
		return "byte"
	case ControlTypeInteger32:
		return "int32"
	case ControlTypeInteger64:
		return "int64"
	case ControlTypeFloat:
		return "float"
	case ControlTypeString:
		return "string"
	case ControlTypeRectangle:
		return "rectangle"
	case ControlTypeSize:
		return "size"
	default:
		return "unknown"
	}
}

// Components returns the number of scalar components making up one element
// of this type (4 for rectangles, 2 for sizes, 1 otherwise).
func (t ControlType) Components() int {
	switch t {
	case ControlTypeRectangle:
		return 4
	case ControlTypeSize:
		return 2
	default:
		return 1
	}
}

// Numeric reports whether values of this type are range checked.
func (t ControlType) Numeric() bool {
	switch t {
	case ControlTypeBool, ControlTypeByte, ControlTypeInteger32, ControlTypeInteger64,
		ControlTypeFloat, ControlTypeRectangle, ControlTypeSize:
		return true
	default:
		return false
	}
}

// Rectangle is an axis aligned region in sensor pixel coordinates
type Rectangle struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r Rectangle) String() string {
	return fmt.Sprintf("(%d,%d)/%dx%d", r.X, r.Y, r.Width, r.Height)
}

// ControlValue is a typed, possibly multi-element control value.
//
// The zero value has type ControlTypeNone.
type ControlValue struct {
	typ    ControlType
	array  bool
	bools  []bool
	ints   []int64 // byte, int32, int64, rectangle and size components
	floats []float64
	strs   []string
}

// BoolValue returns a scalar bool value
func BoolValue(v bool) ControlValue {
	return ControlValue{typ: ControlTypeBool, bools: []bool{v}}
}

// ByteValue returns a scalar byte value
func ByteValue(v uint8) ControlValue {
	return ControlValue{typ: ControlTypeByte, ints: []int64{int64(v)}}
}

// Int32Value returns a scalar int32 value
func Int32Value(v int32) ControlValue {
	return ControlValue{typ: ControlTypeInteger32, ints: []int64{int64(v)}}
}

// Int64Value returns a scalar int64 value
func Int64Value(v int64) ControlValue {
	return ControlValue{typ: ControlTypeInteger64, ints: []int64{v}}
}

// FloatValue returns a scalar float value
func FloatValue(v float64) ControlValue {
	return ControlValue{typ: ControlTypeFloat, floats: []float64{v}}
}

// StringValue returns a scalar string value
func StringValue(v string) ControlValue {
	return ControlValue{typ: ControlTypeString, strs: []string{v}}
}

// RectangleValue returns a scalar rectangle value
func RectangleValue(r Rectangle) ControlValue {
	return ControlValue{
		typ:  ControlTypeRectangle,
		ints: []int64{int64(r.X), int64(r.Y), int64(r.Width), int64(r.Height)},
	}
}

// SizeValue returns a scalar size value
func SizeValue(s Size) ControlValue {
	return ControlValue{typ: ControlTypeSize, ints: []int64{int64(s.Width), int64(s.Height)}}
}

// BoolArray returns an array of bools
func BoolArray(v []bool) ControlValue {
	return ControlValue{typ: ControlTypeBool, array: true, bools: append([]bool(nil), v...)}
}

// ByteArray returns an array of bytes
func ByteArray(v []uint8) ControlValue {
	ints := make([]int64, len(v))
	for i, b := range v {
		ints[i] = int64(b)
	}
	return ControlValue{typ: ControlTypeByte, array: true, ints: ints}
}

// Int32Array returns an array of int32
func Int32Array(v []int32) ControlValue {
	ints := make([]int64, len(v))
	for i, n := range v {
		ints[i] = int64(n)
	}
	return ControlValue{typ: ControlTypeInteger32, array: true, ints: ints}
}

// Int64Array returns an array of int64
func Int64Array(v []int64) ControlValue {
	return ControlValue{typ: ControlTypeInteger64, array: true, ints: append([]int64(nil), v...)}
}

// FloatArray returns an array of floats
func FloatArray(v []float64) ControlValue {
	return ControlValue{typ: ControlTypeFloat, array: true, floats: append([]float64(nil), v...)}
}

// StringArray returns an array of strings
func StringArray(v []string) ControlValue {
	return ControlValue{typ: ControlTypeString, array: true, strs: append([]string(nil), v...)}
}

// Type returns the value type
func (v ControlValue) Type() ControlType { return v.typ }

// IsNone reports whether the value carries no type
func (v ControlValue) IsNone() bool { return v.typ == ControlTypeNone }

// IsArray reports whether the value was built as an array
func (v ControlValue) IsArray() bool { return v.array }

// NumElements returns the number of elements. Rectangles and sizes count as
// one element each.
func (v ControlValue) NumElements() int {
	switch v.typ {
	case ControlTypeNone:
		return 0
	case ControlTypeBool:
		return len(v.bools)
	case ControlTypeFloat:
		return len(v.floats)
	case ControlTypeString:
		return len(v.strs)
	default:
		return len(v.ints) / v.typ.Components()
	}
}

// Bool returns the first bool element
func (v ControlValue) Bool() bool {
	if len(v.bools) == 0 {
		return false
	}
	return v.bools[0]
}

// Int returns the first integer element
func (v ControlValue) Int() int64 {
	if len(v.ints) == 0 {
		return 0
	}
	return v.ints[0]
}

// Float returns the first float element
func (v ControlValue) Float() float64 {
	if len(v.floats) == 0 {
		return 0
	}
	return v.floats[0]
}

// Str returns the first string element
func (v ControlValue) Str() string {
	if len(v.strs) == 0 {
		return ""
	}
	return v.strs[0]
}

// Rectangle returns the first rectangle element
func (v ControlValue) Rectangle() Rectangle {
	if v.typ != ControlTypeRectangle || len(v.ints) < 4 {
		return Rectangle{}
	}
	return Rectangle{X: int(v.ints[0]), Y: int(v.ints[1]), Width: int(v.ints[2]), Height: int(v.ints[3])}
}

// Size returns the first size element
func (v ControlValue) Size() Size {
	if v.typ != ControlTypeSize || len(v.ints) < 2 {
		return Size{}
	}
	return Size{Width: int(v.ints[0]), Height: int(v.ints[1])}
}

// Ints returns a copy of the integer components
func (v ControlValue) Ints() []int64 { return append([]int64(nil), v.ints...) }

// Floats returns a copy of the float elements
func (v ControlValue) Floats() []float64 { return append([]float64(nil), v.floats...) }

// Bools returns a copy of the bool elements
func (v ControlValue) Bools() []bool { return append([]bool(nil), v.bools...) }

// Strings returns a copy of the string elements
func (v ControlValue) Strings() []string { return append([]string(nil), v.strs...) }

// Components returns the numeric components of the value as float64, with
// bools mapped to 0/1. ok is false for non-numeric types.
func (v ControlValue) Components() (c []float64, ok bool) {
	switch v.typ {
	case ControlTypeBool:
		c = make([]float64, len(v.bools))
		for i, b := range v.bools {
			if b {
				c[i] = 1
			}
		}
		return c, true
	case ControlTypeFloat:
		return append([]float64(nil), v.floats...), true
	case ControlTypeByte, ControlTypeInteger32, ControlTypeInteger64,
		ControlTypeRectangle, ControlTypeSize:
		c = make([]float64, len(v.ints))
		for i, n := range v.ints {
			c[i] = float64(n)
		}
		return c, true
	default:
		return nil, false
	}
}

// Equal reports whether two values have the same type, shape and content
func (v ControlValue) Equal(o ControlValue) bool {
	if v.typ != o.typ || v.array != o.array {
		return false
	}
	if len(v.bools) != len(o.bools) || len(v.ints) != len(o.ints) ||
		len(v.floats) != len(o.floats) || len(v.strs) != len(o.strs) {
		return false
	}
	for i := range v.bools {
		if v.bools[i] != o.bools[i] {
			return false
		}
	}
	for i := range v.ints {
		if v.ints[i] != o.ints[i] {
			return false
		}
	}
	for i := range v.floats {
		if v.floats[i] != o.floats[i] {
			return false
		}
	}
	for i := range v.strs {
		if v.strs[i] != o.strs[i] {
			return false
		}
	}
	return true
}

func (v ControlValue) String() string {
	var parts []string
	switch v.typ {
	case ControlTypeNone:
		return "<none>"
	case ControlTypeBool:
		for _, b := range v.bools {
			parts = append(parts, strconv.FormatBool(b))
		}
	case ControlTypeFloat:
		for _, f := range v.floats {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	case ControlTypeString:
		parts = append(parts, v.strs...)
	case ControlTypeRectangle:
		for i := 0; i+3 < len(v.ints); i += 4 {
			r := Rectangle{X: int(v.ints[i]), Y: int(v.ints[i+1]), Width: int(v.ints[i+2]), Height: int(v.ints[i+3])}
			parts = append(parts, r.String())
		}
	case ControlTypeSize:
		for i := 0; i+1 < len(v.ints); i += 2 {
			parts = append(parts, Size{Width: int(v.ints[i]), Height: int(v.ints[i+1])}.String())
		}
	default:
		for _, n := range v.ints {
			parts = append(parts, strconv.FormatInt(n, 10))
		}
	}
	if v.array {
		return "[ " + strings.Join(parts, ", ") + " ]"
	}
	return strings.Join(parts, ", ")
}

// ExtentUnknown marks a control whose element count the backend cannot report
const ExtentUnknown = -1

// ControlID describes a device control
type ControlID struct {
	ID   uint32
	Name string
	Type ControlType
	// Extent is the fixed element count of array controls, 0 for scalars and
	// dynamically sized arrays, or ExtentUnknown.
	Extent int
}

// ControlInfo holds the range and default of a device control
type ControlInfo struct {
	Min     ControlValue
	Max     ControlValue
	Default ControlValue
}

func (i ControlInfo) String() string {
	return "[" + i.Min.String() + ".." + i.Max.String() + "]"
}

// ControlEntry pairs a control with its range information
type ControlEntry struct {
	ID   ControlID
	Info ControlInfo
}

// ControlList maps control ids to values
type ControlList map[uint32]ControlValue

// Set stores value under id
func (l ControlList) Set(id uint32, value ControlValue) { l[id] = value }

// Get returns the value stored under id
func (l ControlList) Get(id uint32) (ControlValue, bool) {
	v, ok := l[id]
	return v, ok
}

// Clear removes every entry
func (l ControlList) Clear() {
	for k := range l {
		delete(l, k)
	}
}
