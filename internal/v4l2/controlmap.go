package v4l2

import (
	"math"
	"strings"
	"unicode"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

// V4L2 control ids with a well-known camera control equivalent
const (
	cidBrightness       uint32 = 0x00980900
	cidContrast         uint32 = 0x00980901
	cidSaturation       uint32 = 0x00980902
	cidAutoWhiteBalance uint32 = 0x0098090c
	cidGain             uint32 = 0x00980913
	cidWBTemperature    uint32 = 0x0098091a
	cidSharpness        uint32 = 0x0098091b
	cidExposureAuto     uint32 = 0x009a0901
	cidExposureAbsolute uint32 = 0x009a0902
)

// V4L2 control types
const (
	ctrlTypeInteger     uint32 = 1
	ctrlTypeBoolean     uint32 = 2
	ctrlTypeMenu        uint32 = 3
	ctrlTypeButton      uint32 = 4
	ctrlTypeInteger64   uint32 = 5
	ctrlTypeCtrlClass   uint32 = 6
	ctrlTypeString      uint32 = 7
	ctrlTypeBitmask     uint32 = 8
	ctrlTypeIntegerMenu uint32 = 9
)

// V4L2 control flags
const (
	ctrlFlagDisabled  uint32 = 0x0001
	ctrlFlagReadOnly  uint32 = 0x0004
	ctrlFlagWriteOnly uint32 = 0x0040
)

// exposure_auto menu entries and the exposure_absolute unit
const (
	exposureManual            = 1
	exposureAperturePriority  = 3
	exposureTimeUnitMicrosecs = 100
)

// deviceControl is one control as reported by QUERY_EXT_CTRL
type deviceControl struct {
	ID      uint32
	Type    uint32
	Name    string
	Min     int64
	Max     int64
	Step    uint64
	Default int64
	Flags   uint32
	Elems   uint32
}

// boundControl ties a camera control to the device control behind it
type boundControl struct {
	entry  camera.ControlEntry
	cid    uint32
	is64   bool
	encode func(camera.ControlValue) int64
}

// bindControl maps a device control to a camera control. Well-known V4L2
// controls take the camera control semantics (Brightness in [-1, 1],
// ExposureTime in microseconds, ...); the rest are exposed as vendor
// controls under vendorID with their V4L2 value range. ok is false for
// controls that cannot be set per request.
func bindControl(dc deviceControl, vendorID uint32) (boundControl, bool) {
	if dc.Flags&(ctrlFlagDisabled|ctrlFlagReadOnly) != 0 {
		return boundControl{}, false
	}
	if dc.Elems > 1 {
		return boundControl{}, false
	}

	if b, ok := bindKnown(dc); ok {
		return b, true
	}

	var typ camera.ControlType
	var min, max, def camera.ControlValue
	is64 := false
	switch dc.Type {
	case ctrlTypeBoolean:
		typ = camera.ControlTypeBool
		min, max, def = camera.BoolValue(dc.Min != 0), camera.BoolValue(dc.Max != 0), camera.BoolValue(dc.Default != 0)
	case ctrlTypeInteger, ctrlTypeMenu, ctrlTypeIntegerMenu:
		typ = camera.ControlTypeInteger32
		min, max, def = camera.Int32Value(clamp32(dc.Min)), camera.Int32Value(clamp32(dc.Max)), camera.Int32Value(clamp32(dc.Default))
	case ctrlTypeInteger64, ctrlTypeBitmask:
		typ = camera.ControlTypeInteger64
		min, max, def = camera.Int64Value(dc.Min), camera.Int64Value(dc.Max), camera.Int64Value(dc.Default)
		is64 = dc.Type == ctrlTypeInteger64
	default:
		return boundControl{}, false
	}

	return boundControl{
		entry: camera.ControlEntry{
			ID:   camera.ControlID{ID: vendorID, Name: controlName(dc.Name), Type: typ, Extent: 0},
			Info: camera.ControlInfo{Min: min, Max: max, Default: def},
		},
		cid:    dc.ID,
		is64:   is64,
		encode: passThrough,
	}, true
}

func bindKnown(dc deviceControl) (boundControl, bool) {
	known := func(id uint32, typ camera.ControlType, min, max, def camera.ControlValue, encode func(camera.ControlValue) int64) (boundControl, bool) {
		return boundControl{
			entry: camera.ControlEntry{
				ID:   camera.ControlID{ID: id, Name: camera.ControlNames[id], Type: typ, Extent: 0},
				Info: camera.ControlInfo{Min: min, Max: max, Default: def},
			},
			cid:    dc.ID,
			encode: encode,
		}, true
	}

	switch dc.ID {
	case cidBrightness:
		// -1..1 spans the device range, 0 is the device default
		return known(camera.ControlBrightness, camera.ControlTypeFloat,
			camera.FloatValue(-1), camera.FloatValue(1), camera.FloatValue(0),
			func(v camera.ControlValue) int64 {
				return clampRound(float64(dc.Default)+v.Float()*float64(dc.Max-dc.Min)/2, dc)
			})

	case cidContrast, cidSaturation, cidSharpness:
		id := map[uint32]uint32{
			cidContrast:   camera.ControlContrast,
			cidSaturation: camera.ControlSaturation,
			cidSharpness:  camera.ControlSharpness,
		}[dc.ID]
		// 1.0 is the device default
		unit := float64(dc.Default)
		if unit <= 0 {
			unit = math.Max(float64(dc.Max-dc.Min)/2, 1)
		}
		return known(id, camera.ControlTypeFloat,
			camera.FloatValue(math.Max(float64(dc.Min)/unit, 0)), camera.FloatValue(float64(dc.Max)/unit), camera.FloatValue(float64(dc.Default)/unit),
			func(v camera.ControlValue) int64 { return clampRound(v.Float()*unit, dc) })

	case cidGain:
		// 1.0 is the lowest device gain
		unit := math.Max(float64(dc.Min), 1)
		return known(camera.ControlAnalogueGain, camera.ControlTypeFloat,
			camera.FloatValue(1), camera.FloatValue(float64(dc.Max)/unit), camera.FloatValue(float64(dc.Default)/unit),
			func(v camera.ControlValue) int64 { return clampRound(v.Float()*unit, dc) })

	case cidAutoWhiteBalance:
		return known(camera.ControlAwbEnable, camera.ControlTypeBool,
			camera.BoolValue(false), camera.BoolValue(true), camera.BoolValue(dc.Default != 0),
			boolEncode(1, 0))

	case cidWBTemperature:
		return known(camera.ControlColourTemperature, camera.ControlTypeInteger32,
			camera.Int32Value(clamp32(dc.Min)), camera.Int32Value(clamp32(dc.Max)), camera.Int32Value(clamp32(dc.Default)),
			passThrough)

	case cidExposureAuto:
		return known(camera.ControlAeEnable, camera.ControlTypeBool,
			camera.BoolValue(false), camera.BoolValue(true), camera.BoolValue(dc.Default != exposureManual),
			boolEncode(exposureAperturePriority, exposureManual))

	case cidExposureAbsolute:
		return known(camera.ControlExposureTime, camera.ControlTypeInteger32,
			camera.Int32Value(clamp32(dc.Min*exposureTimeUnitMicrosecs)),
			camera.Int32Value(clamp32(dc.Max*exposureTimeUnitMicrosecs)),
			camera.Int32Value(clamp32(dc.Default*exposureTimeUnitMicrosecs)),
			func(v camera.ControlValue) int64 {
				return clampRound(float64(v.Int())/exposureTimeUnitMicrosecs, dc)
			})
	}
	return boundControl{}, false
}

func passThrough(v camera.ControlValue) int64 {
	if v.Type() == camera.ControlTypeBool {
		if v.Bool() {
			return 1
		}
		return 0
	}
	return v.Int()
}

func boolEncode(on, off int64) func(camera.ControlValue) int64 {
	return func(v camera.ControlValue) int64 {
		if v.Bool() {
			return on
		}
		return off
	}
}

func clampRound(x float64, dc deviceControl) int64 {
	n := int64(math.Round(x))
	if n < dc.Min {
		return dc.Min
	}
	if dc.Max > dc.Min && n > dc.Max {
		return dc.Max
	}
	return n
}

func clamp32(n int64) int32 {
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	default:
		return int32(n)
	}
}

// controlName turns a V4L2 control name ("White Balance, Auto & Preset")
// into a control identifier ("WhiteBalanceAutoPreset")
func controlName(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cString returns the NUL terminated string at the start of b
func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
