package controls

import (
	"fmt"
	"math"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

// convert turns a loosely typed parameter value into a ControlValue of the
// descriptor's type.
//
// Accepted inputs:
//   - bool                      → Bool
//   - any Go integer            → Integer32 / Integer64 / Byte / Float (by descriptor)
//   - float32, float64          → Float
//   - string                    → String
//   - integer list              → Integer32/Integer64/Byte/Float array, Rectangle (4), Size (2)
//   - float list                → Float array
//   - string list, bool list    → String / Bool array
//   - camera.ControlValue       → unchanged
//
// []any (as decoded from YAML) is normalised first: all integers → integer
// list; integers and floats mixed → float list.
func convert(d *Descriptor, raw any) (camera.ControlValue, error) {
	switch v := raw.(type) {
	case nil:
		return camera.ControlValue{}, fmt.Errorf("%w: no value", ErrTypeMismatch)
	case camera.ControlValue:
		return v, nil
	case bool:
		return camera.BoolValue(v), nil
	case float32:
		return camera.FloatValue(float64(v)), nil
	case float64:
		return camera.FloatValue(v), nil
	case string:
		return camera.StringValue(v), nil
	case []bool:
		return camera.BoolArray(v), nil
	case []string:
		return camera.StringArray(v), nil
	case []float64:
		return camera.FloatArray(v), nil
	case []float32:
		fs := make([]float64, len(v))
		for i, f := range v {
			fs[i] = float64(f)
		}
		return camera.FloatArray(fs), nil
	case []int:
		ns := make([]int64, len(v))
		for i, n := range v {
			ns[i] = int64(n)
		}
		return intList(d, ns)
	case []int32:
		ns := make([]int64, len(v))
		for i, n := range v {
			ns[i] = int64(n)
		}
		return intList(d, ns)
	case []int64:
		return intList(d, v)
	case []any:
		return anyList(d, v)
	}

	if n, ok := asInt64(raw); ok {
		return intScalar(d, n)
	}
	return camera.ControlValue{}, fmt.Errorf("%w: unsupported value type %T", ErrTypeMismatch, raw)
}

func asInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func intScalar(d *Descriptor, n int64) (camera.ControlValue, error) {
	switch d.Type {
	case camera.ControlTypeInteger32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return camera.ControlValue{}, fmt.Errorf("%w: %d does not fit in int32", ErrOutOfRange, n)
		}
		return camera.Int32Value(int32(n)), nil
	case camera.ControlTypeInteger64:
		return camera.Int64Value(n), nil
	case camera.ControlTypeByte:
		if n < 0 || n > math.MaxUint8 {
			return camera.ControlValue{}, fmt.Errorf("%w: %d does not fit in a byte", ErrOutOfRange, n)
		}
		return camera.ByteValue(uint8(n)), nil
	case camera.ControlTypeFloat:
		return camera.FloatValue(float64(n)), nil
	default:
		return camera.ControlValue{}, fmt.Errorf("%w: integer given, control is %s", ErrTypeMismatch, d.Type)
	}
}

func intList(d *Descriptor, ns []int64) (camera.ControlValue, error) {
	switch d.Type {
	case camera.ControlTypeInteger32:
		out := make([]int32, len(ns))
		for i, n := range ns {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return camera.ControlValue{}, fmt.Errorf("%w: element %d does not fit in int32", ErrOutOfRange, i)
			}
			out[i] = int32(n)
		}
		return camera.Int32Array(out), nil
	case camera.ControlTypeInteger64:
		return camera.Int64Array(ns), nil
	case camera.ControlTypeByte:
		out := make([]uint8, len(ns))
		for i, n := range ns {
			if n < 0 || n > math.MaxUint8 {
				return camera.ControlValue{}, fmt.Errorf("%w: element %d does not fit in a byte", ErrOutOfRange, i)
			}
			out[i] = uint8(n)
		}
		return camera.ByteArray(out), nil
	case camera.ControlTypeRectangle:
		if len(ns) != 4 {
			return camera.ControlValue{}, fmt.Errorf("%w: rectangle needs 4 integers, got %d", ErrCardinalityMismatch, len(ns))
		}
		return camera.RectangleValue(camera.Rectangle{
			X: int(ns[0]), Y: int(ns[1]), Width: int(ns[2]), Height: int(ns[3]),
		}), nil
	case camera.ControlTypeSize:
		if len(ns) != 2 {
			return camera.ControlValue{}, fmt.Errorf("%w: size needs 2 integers, got %d", ErrCardinalityMismatch, len(ns))
		}
		return camera.SizeValue(camera.Size{Width: int(ns[0]), Height: int(ns[1])}), nil
	case camera.ControlTypeFloat:
		fs := make([]float64, len(ns))
		for i, n := range ns {
			fs[i] = float64(n)
		}
		return camera.FloatArray(fs), nil
	default:
		return camera.ControlValue{}, fmt.Errorf("%w: integer list given, control is %s", ErrTypeMismatch, d.Type)
	}
}

func anyList(d *Descriptor, items []any) (camera.ControlValue, error) {
	if len(items) == 0 {
		return camera.ControlValue{}, fmt.Errorf("%w: empty list", ErrTypeMismatch)
	}

	var (
		ints    []int64
		floats  []float64
		strs    []string
		bools   []bool
		isFloat bool
	)
	for i, it := range items {
		if n, ok := asInt64(it); ok {
			ints = append(ints, n)
			floats = append(floats, float64(n))
			continue
		}
		switch v := it.(type) {
		case float64:
			isFloat = true
			floats = append(floats, v)
		case float32:
			isFloat = true
			floats = append(floats, float64(v))
		case string:
			strs = append(strs, v)
		case bool:
			bools = append(bools, v)
		default:
			return camera.ControlValue{}, fmt.Errorf("%w: unsupported list element %d of type %T", ErrTypeMismatch, i, it)
		}
	}

	switch {
	case len(strs) == len(items):
		return camera.StringArray(strs), nil
	case len(bools) == len(items):
		return camera.BoolArray(bools), nil
	case len(floats) == len(items) && isFloat:
		return camera.FloatArray(floats), nil
	case len(ints) == len(items):
		return intList(d, ints)
	default:
		return camera.ControlValue{}, fmt.Errorf("%w: mixed element types in list", ErrTypeMismatch)
	}
}

// outOfRange applies the bound check element-wise. A bound with fewer
// components than the value repeats (scalar bounds apply to every element).
// With both bounds present the upper bound only applies where max > min:
// devices report max <= min for "no upper limit".
func outOfRange(v, min, max camera.ControlValue) bool {
	vc, ok := v.Components()
	if !ok || len(vc) == 0 {
		return false
	}
	lo, hasLo := min.Components()
	hi, hasHi := max.Components()
	hasLo = hasLo && len(lo) > 0
	hasHi = hasHi && len(hi) > 0

	for i, x := range vc {
		if hasLo && x < lo[i%len(lo)] {
			return true
		}
		if !hasHi {
			continue
		}
		h := hi[i%len(hi)]
		if hasLo && h <= lo[i%len(lo)] {
			continue
		}
		if x > h {
			return true
		}
	}
	return false
}
