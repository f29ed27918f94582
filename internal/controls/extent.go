package controls

import "github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"

// ExtentResolver returns the fixed element count of a control (0 for scalars
// and dynamically sized arrays). ok is false when the count cannot be
// determined.
type ExtentResolver func(id camera.ControlID) (extent int, ok bool)

// knownExtents lists the element counts of the controls this driver knows
// about. Controls missing here are usable only if the backend reports their
// extent itself.
var knownExtents = map[string]int{
	"AeEnable":               0,
	"AeLocked":               0,
	"AeMeteringMode":         0,
	"AeConstraintMode":       0,
	"AeExposureMode":         0,
	"ExposureValue":          0,
	"ExposureTime":           0,
	"AnalogueGain":           0,
	"Brightness":             0,
	"Contrast":               0,
	"Lux":                    0,
	"AwbEnable":              0,
	"AwbMode":                0,
	"AwbLocked":              0,
	"ColourGains":            2,
	"ColourTemperature":      0,
	"Saturation":             0,
	"SensorBlackLevels":      4,
	"Sharpness":              0,
	"FocusFoM":               0,
	"ColourCorrectionMatrix": 9,
	"ScalerCrop":             0,
	"DigitalGain":            0,
	"FrameDuration":          0,
	"FrameDurationLimits":    2,
	"SensorTemperature":      0,
	"SensorTimestamp":        0,
}

// DefaultExtent trusts a backend reported extent and falls back to the table
// of known controls.
func DefaultExtent(id camera.ControlID) (int, bool) {
	if id.Extent >= 0 {
		return id.Extent, true
	}
	n, ok := knownExtents[id.Name]
	return n, ok
}
