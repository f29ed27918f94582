package camera

// Well-known control ids shared by the backends. Backends may report further
// vendor controls with ids above ControlVendorBase.
const (
	ControlAeEnable uint32 = iota + 1
	ControlAeLocked
	ControlAeMeteringMode
	ControlAeConstraintMode
	ControlAeExposureMode
	ControlExposureValue
	ControlExposureTime
	ControlAnalogueGain
	ControlBrightness
	ControlContrast
	ControlLux
	ControlAwbEnable
	ControlAwbMode
	ControlAwbLocked
	ControlColourGains
	ControlColourTemperature
	ControlSaturation
	ControlSensorBlackLevels
	ControlSharpness
	ControlFocusFoM
	ControlColourCorrectionMatrix
	ControlScalerCrop
	ControlDigitalGain
	ControlFrameDuration
	ControlFrameDurationLimits
	ControlSensorTemperature
	ControlSensorTimestamp
)

// ControlVendorBase is the first id available for backend specific controls
const ControlVendorBase uint32 = 0x10000

// ControlNames maps the well-known ids to their canonical names
var ControlNames = map[uint32]string{
	ControlAeEnable:               "AeEnable",
	ControlAeLocked:               "AeLocked",
	ControlAeMeteringMode:         "AeMeteringMode",
	ControlAeConstraintMode:       "AeConstraintMode",
	ControlAeExposureMode:         "AeExposureMode",
	ControlExposureValue:          "ExposureValue",
	ControlExposureTime:           "ExposureTime",
	ControlAnalogueGain:           "AnalogueGain",
	ControlBrightness:             "Brightness",
	ControlContrast:               "Contrast",
	ControlLux:                    "Lux",
	ControlAwbEnable:              "AwbEnable",
	ControlAwbMode:                "AwbMode",
	ControlAwbLocked:              "AwbLocked",
	ControlColourGains:            "ColourGains",
	ControlColourTemperature:      "ColourTemperature",
	ControlSaturation:             "Saturation",
	ControlSensorBlackLevels:      "SensorBlackLevels",
	ControlSharpness:              "Sharpness",
	ControlFocusFoM:               "FocusFoM",
	ControlColourCorrectionMatrix: "ColourCorrectionMatrix",
	ControlScalerCrop:             "ScalerCrop",
	ControlDigitalGain:            "DigitalGain",
	ControlFrameDuration:          "FrameDuration",
	ControlFrameDurationLimits:    "FrameDurationLimits",
	ControlSensorTemperature:      "SensorTemperature",
	ControlSensorTimestamp:        "SensorTimestamp",
}
