package controls

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

// Parameters are the named control parameters accepted in configuration.
// Unset (nil) fields leave the device default in place.
type Parameters struct {
	ExposureTime     *int     `yaml:"exposure_time"`
	FPS              *float64 `yaml:"fps"`
	AeConstraintMode *string  `yaml:"ae_constraint_mode"`
	AeMeteringMode   *string  `yaml:"ae_metering_mode"`
	AeExposureMode   *string  `yaml:"ae_exposure_mode"`
	AwbMode          *string  `yaml:"awb_mode"`
	Brightness       *float64 `yaml:"brightness"`
	Sharpness        *float64 `yaml:"sharpness"`
	AwbEnable        *bool    `yaml:"awb_enable"`
	AeEnable         *bool    `yaml:"ae_enable"`
	Saturation       *float64 `yaml:"saturation"`
	Contrast         *float64 `yaml:"contrast"`
	ExposureValue    *float64 `yaml:"exposure_value"`
	AnalogueGain     *float64 `yaml:"analogue_gain"`
	ScalerCrop       []int    `yaml:"scaler_crop"`

	// Raw sets device controls by their device name, e.g. ColourGains: [1.2, 1.8]
	Raw map[string]any `yaml:"raw"`
}

// assignment is one parameter bound to its device control
type assignment struct {
	param   string
	control string
	value   any
	err     error
}

// FrameDurationLimits converts a frame rate into the {min, max} frame
// duration pair in microseconds that pins the sensor to it.
func FrameDurationLimits(fps float64) []int64 {
	d := int64(1e6 / fps)
	return []int64{d, d}
}

func (p Parameters) assignments() []assignment {
	var out []assignment
	add := func(param, control string, value any) {
		out = append(out, assignment{param: param, control: control, value: value})
	}
	mode := func(param string, t ModeTable, name *string) {
		if name == nil {
			return
		}
		v, err := t.Lookup(*name)
		out = append(out, assignment{param: param, control: t.Control, value: v, err: err})
	}

	if p.ExposureTime != nil {
		add("exposure_time", "ExposureTime", *p.ExposureTime)
	}
	if p.FPS != nil {
		if *p.FPS <= 0 {
			out = append(out, assignment{param: "fps", control: "FrameDurationLimits",
				err: fmt.Errorf("%w: fps must be positive, got %g", ErrOutOfRange, *p.FPS)})
		} else {
			add("fps", "FrameDurationLimits", FrameDurationLimits(*p.FPS))
		}
	}
	mode("ae_constraint_mode", AeConstraintModes, p.AeConstraintMode)
	if p.Brightness != nil {
		add("brightness", "Brightness", *p.Brightness)
	}
	if p.Sharpness != nil {
		add("sharpness", "Sharpness", *p.Sharpness)
	}
	if p.AwbEnable != nil {
		add("awb_enable", "AwbEnable", *p.AwbEnable)
	}
	if p.AeEnable != nil {
		add("ae_enable", "AeEnable", *p.AeEnable)
	}
	if p.Saturation != nil {
		add("saturation", "Saturation", *p.Saturation)
	}
	if p.Contrast != nil {
		add("contrast", "Contrast", *p.Contrast)
	}
	if p.ExposureValue != nil {
		add("exposure_value", "ExposureValue", *p.ExposureValue)
	}
	if p.AnalogueGain != nil {
		add("analogue_gain", "AnalogueGain", *p.AnalogueGain)
	}
	mode("awb_mode", AwbModes, p.AwbMode)
	mode("ae_metering_mode", AeMeteringModes, p.AeMeteringMode)
	if p.ScalerCrop != nil {
		add("scaler_crop", "ScalerCrop", p.ScalerCrop)
	}
	mode("ae_exposure_mode", AeExposureModes, p.AeExposureMode)

	names := make([]string, 0, len(p.Raw))
	for name := range p.Raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add("raw."+name, name, p.Raw[name])
	}
	return out
}

// Apply validates and commits every set parameter into r.
//
// A parameter whose control the device does not offer (AwbEnable on a
// monochrome sensor, for instance) is logged and skipped. Rejected values
// are logged and returned; they never stop the remaining parameters.
func (p Parameters) Apply(r *Registry) []error {
	var rejected []error
	for _, a := range p.assignments() {
		if a.err != nil {
			err := faults.Validation(a.param, fmt.Errorf("controls: %w", a.err))
			slog.Error("controls: parameter rejected", "parameter", a.param, "error", err)
			rejected = append(rejected, err)
			continue
		}
		if !r.Has(a.control) {
			slog.Warn("controls: parameter not available on this device, skipping",
				"parameter", a.param,
				"control", a.control,
			)
			continue
		}
		if err := r.Set(a.control, a.value); err != nil {
			slog.Error("controls: parameter rejected", "parameter", a.param, "error", err)
			rejected = append(rejected, err)
			continue
		}
		slog.Info("controls: parameter applied", "parameter", a.param, "control", a.control)
	}
	return rejected
}
