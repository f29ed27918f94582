package controls

import (
	"fmt"
	"sort"
	"strings"
)

// ModeTable maps the configuration names of an enumerated control to the
// integer values the device expects.
type ModeTable struct {
	Control string
	values  map[string]int32
}

var (
	AeMeteringModes = ModeTable{Control: "AeMeteringMode", values: map[string]int32{
		"centre-weighted": 0,
		"spot":            1,
		"matrix":          2,
		"custom":          3,
	}}
	AeConstraintModes = ModeTable{Control: "AeConstraintMode", values: map[string]int32{
		"normal":    0,
		"highlight": 1,
		"shadows":   2,
		"custom":    3,
	}}
	AeExposureModes = ModeTable{Control: "AeExposureMode", values: map[string]int32{
		"normal": 0,
		"short":  1,
		"long":   2,
		"custom": 3,
	}}
	AwbModes = ModeTable{Control: "AwbMode", values: map[string]int32{
		"auto":         0,
		"incandescent": 1,
		"tungsten":     2,
		"fluorescent":  3,
		"indoor":       4,
		"daylight":     5,
		"cloudy":       6,
		"custom":       7,
	}}
)

// Lookup returns the integer value of mode. Names are case-insensitive.
func (t ModeTable) Lookup(mode string) (int32, error) {
	v, ok := t.values[strings.ToLower(strings.TrimSpace(mode))]
	if !ok {
		return 0, fmt.Errorf("%w %q for %s (valid: %s)", ErrInvalidMode, mode, t.Control, strings.Join(t.Names(), ", "))
	}
	return v, nil
}

// Names returns the valid mode names ordered by value
func (t ModeTable) Names() []string {
	names := make([]string, 0, len(t.values))
	for n := range t.values {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return t.values[names[i]] < t.values[names[j]] })
	return names
}
