package v4l2

import (
	"reflect"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

func TestBindControl_Known(t *testing.T) {
	tests := []struct {
		name     string
		dc       deviceControl
		wantID   uint32
		wantType camera.ControlType
		value    camera.ControlValue
		want     int64
	}{
		{"brightness centre", deviceControl{ID: cidBrightness, Type: ctrlTypeInteger, Min: -64, Max: 64, Default: 0},
			camera.ControlBrightness, camera.ControlTypeFloat, camera.FloatValue(0), 0},
		{"brightness max", deviceControl{ID: cidBrightness, Type: ctrlTypeInteger, Min: -64, Max: 64, Default: 0},
			camera.ControlBrightness, camera.ControlTypeFloat, camera.FloatValue(1), 64},
		{"brightness half down", deviceControl{ID: cidBrightness, Type: ctrlTypeInteger, Min: -64, Max: 64, Default: 0},
			camera.ControlBrightness, camera.ControlTypeFloat, camera.FloatValue(-0.5), -32},
		{"contrast", deviceControl{ID: cidContrast, Type: ctrlTypeInteger, Min: 0, Max: 100, Default: 50},
			camera.ControlContrast, camera.ControlTypeFloat, camera.FloatValue(1.5), 75},
		{"contrast clamped", deviceControl{ID: cidContrast, Type: ctrlTypeInteger, Min: 0, Max: 100, Default: 50},
			camera.ControlContrast, camera.ControlTypeFloat, camera.FloatValue(3), 100},
		{"saturation", deviceControl{ID: cidSaturation, Type: ctrlTypeInteger, Min: 0, Max: 128, Default: 64},
			camera.ControlSaturation, camera.ControlTypeFloat, camera.FloatValue(0.5), 32},
		{"gain", deviceControl{ID: cidGain, Type: ctrlTypeInteger, Min: 0, Max: 100, Default: 32},
			camera.ControlAnalogueGain, camera.ControlTypeFloat, camera.FloatValue(4), 4},
		{"awb on", deviceControl{ID: cidAutoWhiteBalance, Type: ctrlTypeBoolean, Min: 0, Max: 1, Default: 1},
			camera.ControlAwbEnable, camera.ControlTypeBool, camera.BoolValue(true), 1},
		{"colour temperature", deviceControl{ID: cidWBTemperature, Type: ctrlTypeInteger, Min: 2800, Max: 6500, Default: 4600},
			camera.ControlColourTemperature, camera.ControlTypeInteger32, camera.Int32Value(5000), 5000},
		{"ae on", deviceControl{ID: cidExposureAuto, Type: ctrlTypeMenu, Min: 0, Max: 3, Default: 3},
			camera.ControlAeEnable, camera.ControlTypeBool, camera.BoolValue(true), exposureAperturePriority},
		{"ae off", deviceControl{ID: cidExposureAuto, Type: ctrlTypeMenu, Min: 0, Max: 3, Default: 3},
			camera.ControlAeEnable, camera.ControlTypeBool, camera.BoolValue(false), exposureManual},
		{"exposure time", deviceControl{ID: cidExposureAbsolute, Type: ctrlTypeInteger, Min: 3, Max: 2047, Default: 250},
			camera.ControlExposureTime, camera.ControlTypeInteger32, camera.Int32Value(10000), 100},
		{"exposure time below range", deviceControl{ID: cidExposureAbsolute, Type: ctrlTypeInteger, Min: 3, Max: 2047, Default: 250},
			camera.ControlExposureTime, camera.ControlTypeInteger32, camera.Int32Value(100), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := bindControl(tt.dc, camera.ControlVendorBase)
			if !ok {
				t.Fatal("control not bound")
			}
			if b.entry.ID.ID != tt.wantID || b.entry.ID.Type != tt.wantType {
				t.Errorf("bound as %d/%s, want %d/%s", b.entry.ID.ID, b.entry.ID.Type, tt.wantID, tt.wantType)
			}
			if b.entry.ID.Name != camera.ControlNames[tt.wantID] {
				t.Errorf("name = %q", b.entry.ID.Name)
			}
			if b.cid != tt.dc.ID {
				t.Errorf("cid = %#x, want %#x", b.cid, tt.dc.ID)
			}
			if got := b.encode(tt.value); got != tt.want {
				t.Errorf("encode(%s) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestBindControl_Ranges(t *testing.T) {
	b, _ := bindControl(deviceControl{ID: cidExposureAbsolute, Type: ctrlTypeInteger, Min: 3, Max: 2047, Default: 250}, camera.ControlVendorBase)
	if b.entry.Info.Min.Int() != 300 || b.entry.Info.Max.Int() != 204700 || b.entry.Info.Default.Int() != 25000 {
		t.Errorf("exposure range = %s default %s", b.entry.Info, b.entry.Info.Default)
	}

	b, _ = bindControl(deviceControl{ID: cidContrast, Type: ctrlTypeInteger, Min: 0, Max: 100, Default: 50}, camera.ControlVendorBase)
	if b.entry.Info.Min.Float() != 0 || b.entry.Info.Max.Float() != 2 || b.entry.Info.Default.Float() != 1 {
		t.Errorf("contrast range = %s default %s", b.entry.Info, b.entry.Info.Default)
	}

	b, _ = bindControl(deviceControl{ID: cidExposureAuto, Type: ctrlTypeMenu, Min: 0, Max: 3, Default: exposureManual}, camera.ControlVendorBase)
	if b.entry.Info.Default.Bool() {
		t.Error("manual exposure default should map to AeEnable false")
	}
}

func TestBindControl_Vendor(t *testing.T) {
	tests := []struct {
		name     string
		dc       deviceControl
		wantName string
		wantType camera.ControlType
		value    camera.ControlValue
		want     int64
	}{
		{"menu", deviceControl{ID: 0x00980918, Type: ctrlTypeMenu, Name: "Power Line Frequency", Min: 0, Max: 2, Default: 1},
			"PowerLineFrequency", camera.ControlTypeInteger32, camera.Int32Value(2), 2},
		{"bool", deviceControl{ID: 0x009a090c, Type: ctrlTypeBoolean, Name: "Focus, Automatic Continuous", Min: 0, Max: 1},
			"FocusAutomaticContinuous", camera.ControlTypeBool, camera.BoolValue(true), 1},
		{"int64", deviceControl{ID: 0x00a00001, Type: ctrlTypeInteger64, Name: "pixel_rate", Min: 0, Max: 1 << 40},
			"PixelRate", camera.ControlTypeInteger64, camera.Int64Value(1 << 35), 1 << 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := bindControl(tt.dc, camera.ControlVendorBase+7)
			if !ok {
				t.Fatal("control not bound")
			}
			if b.entry.ID.ID != camera.ControlVendorBase+7 {
				t.Errorf("id = %#x", b.entry.ID.ID)
			}
			if b.entry.ID.Name != tt.wantName || b.entry.ID.Type != tt.wantType {
				t.Errorf("bound as %q/%s, want %q/%s", b.entry.ID.Name, b.entry.ID.Type, tt.wantName, tt.wantType)
			}
			if got := b.encode(tt.value); got != tt.want {
				t.Errorf("encode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBindControl_Skipped(t *testing.T) {
	tests := []struct {
		name string
		dc   deviceControl
	}{
		{"read only", deviceControl{ID: cidGain, Type: ctrlTypeInteger, Max: 100, Flags: ctrlFlagReadOnly}},
		{"disabled", deviceControl{ID: 0x00980920, Type: ctrlTypeInteger, Max: 10, Flags: ctrlFlagDisabled}},
		{"button", deviceControl{ID: 0x00980921, Type: ctrlTypeButton, Name: "Reset"}},
		{"class", deviceControl{ID: 0x00980001, Type: ctrlTypeCtrlClass, Name: "User Controls"}},
		{"string", deviceControl{ID: 0x00980922, Type: ctrlTypeString, Name: "Label"}},
		{"array", deviceControl{ID: 0x00980923, Type: ctrlTypeInteger, Name: "Table", Elems: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := bindControl(tt.dc, camera.ControlVendorBase); ok {
				t.Error("control should not be bound")
			}
		})
	}
}

func TestControlName(t *testing.T) {
	tests := map[string]string{
		"White Balance, Auto & Preset": "WhiteBalanceAutoPreset",
		"Exposure Time, Absolute":      "ExposureTimeAbsolute",
		"h264_i_frame_period":          "H264IFramePeriod",
		"":                             "",
	}
	for in, want := range tests {
		if got := controlName(in); got != want {
			t.Errorf("controlName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCString(t *testing.T) {
	var b [16]byte
	copy(b[:], "uvcvideo")
	if got := cString(b[:]); got != "uvcvideo" {
		t.Errorf("cString = %q", got)
	}
	if got := cString([]byte("full")); got != "full" {
		t.Errorf("unterminated cString = %q", got)
	}
}

func TestStepwiseSizes(t *testing.T) {
	got := stepwiseSizes(160, 1920, 16, 120, 1080, 8)
	want := []camera.Size{
		{Width: 320, Height: 240},
		{Width: 640, Height: 480},
		{Width: 800, Height: 600},
		{Width: 1280, Height: 720},
		{Width: 1920, Height: 1080},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stepwiseSizes = %v, want %v", got, want)
	}

	// continuous ranges report step 1 or 0
	got = stepwiseSizes(1, 1000, 0, 1, 700, 0)
	want = []camera.Size{
		{Width: 320, Height: 240},
		{Width: 640, Height: 480},
		{Width: 800, Height: 600},
		{Width: 1000, Height: 700},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("continuous stepwiseSizes = %v, want %v", got, want)
	}
}

func TestSortSizes(t *testing.T) {
	in := []camera.Size{
		{Width: 1280, Height: 720},
		{Width: 640, Height: 480},
		{Width: 1280, Height: 720},
		{Width: 480, Height: 640},
		{Width: 320, Height: 240},
	}
	want := []camera.Size{
		{Width: 320, Height: 240},
		{Width: 480, Height: 640},
		{Width: 640, Height: 480},
		{Width: 1280, Height: 720},
	}
	if got := sortSizes(in); !reflect.DeepEqual(got, want) {
		t.Errorf("sortSizes = %v, want %v", got, want)
	}
}
