// Package controls validates and holds run-time device control values.
//
// A Registry is built from the controls a camera reports. Candidate values
// are checked for type, element count and range before they are committed;
// the committed set is what every capture request is armed with. The
// registry never talks to hardware.
package controls

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/faults"
)

// Descriptor is the immutable description of one device control
type Descriptor struct {
	ID   uint32
	Name string
	Type camera.ControlType
	// Cardinality is the fixed element count, or 0 for scalars and
	// dynamically sized arrays
	Cardinality int
	Min         camera.ControlValue
	Max         camera.ControlValue
	Default     camera.ControlValue
}

// IsArray reports whether the control takes array values
func (d Descriptor) IsArray() bool {
	return d.Cardinality > 0 || d.Min.IsArray() || d.Max.IsArray() || d.Default.IsArray()
}

// Unbounded reports whether the control has no upper limit
func (d Descriptor) Unbounded() bool {
	lo, ok1 := d.Min.Components()
	hi, ok2 := d.Max.Components()
	if !ok1 || !ok2 || len(lo) == 0 || len(hi) == 0 {
		return false
	}
	return hi[0] <= lo[0]
}

func (d Descriptor) String() string {
	shape := "scalar"
	if d.Cardinality > 0 {
		shape = fmt.Sprintf("array[%d]", d.Cardinality)
	}
	return fmt.Sprintf("%s %s %s [%s..%s]", d.Name, d.Type, shape, d.Min, d.Max)
}

// Setting is a validated value tagged with the control it belongs to
type Setting struct {
	ID    uint32
	Name  string
	Value camera.ControlValue
}

// Source reports the controls of a device. camera.Camera satisfies it.
type Source interface {
	Controls() []camera.ControlEntry
}

// Registry maps control names to descriptors and holds the committed
// parameter set. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*Descriptor
	byID      map[uint32]*Descriptor
	committed camera.ControlList
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Descriptor),
		byID:      make(map[uint32]*Descriptor),
		committed: make(camera.ControlList),
	}
}

// Discover builds a registry from the controls src reports.
//
// For each control:
//  1. Resolves its element count with resolve (DefaultExtent when nil);
//     unresolvable controls are logged and skipped
//  2. Rejects controls whose min and max element counts differ (fatal)
//  3. Logs the control with its range and default
func Discover(src Source, resolve ExtentResolver) (*Registry, error) {
	if resolve == nil {
		resolve = DefaultExtent
	}
	r := NewRegistry()

	slog.Info("controls: available control parameters")

	for _, e := range src.Controls() {
		extent, ok := resolve(e.ID)
		if !ok {
			slog.Info("controls: control not handled, skipping",
				"control", e.ID.Name,
				"id", e.ID.ID,
			)
			continue
		}

		if e.Info.Min.NumElements() != e.Info.Max.NumElements() {
			return nil, faults.Configuration(e.ID.Name, fmt.Errorf(
				"controls: %w (min %d, max %d)",
				ErrBoundsShapeMismatch,
				e.Info.Min.NumElements(),
				e.Info.Max.NumElements(),
			))
		}

		d := &Descriptor{
			ID:          e.ID.ID,
			Name:        e.ID.Name,
			Type:        e.ID.Type,
			Cardinality: extent,
			Min:         e.Info.Min,
			Max:         e.Info.Max,
			Default:     e.Info.Default,
		}
		r.byName[d.Name] = d
		r.byID[d.ID] = d

		attrs := []any{
			"control", d.Name,
			"type", d.Type.String(),
			"range", e.Info.String(),
		}
		if d.Cardinality > 0 {
			attrs = append(attrs, "extent", d.Cardinality)
		}
		if !d.Default.IsNone() {
			attrs = append(attrs, "default", d.Default.String())
		}
		slog.Info("controls: control available", attrs...)
	}

	return r, nil
}

// Add registers a descriptor. Later registrations under the same name or id
// replace earlier ones.
func (r *Registry) Add(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dd := d
	r.byName[d.Name] = &dd
	r.byID[d.ID] = &dd
}

// Lookup returns the descriptor registered under name
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Has reports whether name is a known control
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Descriptors returns all descriptors sorted by name
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known controls
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Validate converts raw to the control's type and checks it.
//
// Errors wrap ErrUnknownControl, ErrTypeMismatch, ErrCardinalityMismatch or
// ErrOutOfRange inside a faults.Validation error naming the control.
func (r *Registry) Validate(name string, raw any) (Setting, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return Setting{}, faults.Validation(name, fmt.Errorf("controls: %w", ErrUnknownControl))
	}

	v, err := convert(&d, raw)
	if err != nil {
		return Setting{}, faults.Validation(name, fmt.Errorf("controls: %w", err))
	}
	if err := check(&d, v); err != nil {
		return Setting{}, faults.Validation(name, fmt.Errorf("controls: %w", err))
	}
	return Setting{ID: d.ID, Name: d.Name, Value: v}, nil
}

// check verifies an already typed value against d
func check(d *Descriptor, v camera.ControlValue) error {
	if v.IsNone() {
		return fmt.Errorf("%w: value has no type", ErrTypeMismatch)
	}
	if v.Type() != d.Type {
		return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, d.Type, v.Type())
	}
	if d.Cardinality > 0 && v.NumElements() != d.Cardinality {
		return fmt.Errorf("%w: expected %d elements, got %d", ErrCardinalityMismatch, d.Cardinality, v.NumElements())
	}
	if !d.IsArray() && v.IsArray() {
		return fmt.Errorf("%w: scalar control given %d elements", ErrCardinalityMismatch, v.NumElements())
	}
	if outOfRange(v, d.Min, d.Max) {
		return fmt.Errorf("%w: %s outside [%s..%s]", ErrOutOfRange, v, d.Min, d.Max)
	}
	return nil
}

// Commit stores s in the committed set, replacing any earlier value for the
// same control.
func (r *Registry) Commit(s Setting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed[s.ID] = s.Value
}

// Set validates raw and commits it on success
func (r *Registry) Set(name string, raw any) error {
	s, err := r.Validate(name, raw)
	if err != nil {
		return err
	}
	r.Commit(s)
	slog.Debug("controls: parameter committed",
		"control", s.Name,
		"value", s.Value.String(),
	)
	return nil
}

// Committed returns a copy of the committed parameter set
func (r *Registry) Committed() camera.ControlList {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(camera.ControlList, len(r.committed))
	for k, v := range r.committed {
		out[k] = v
	}
	return out
}

// CommittedByName returns the committed set keyed by control name
func (r *Registry) CommittedByName() map[string]camera.ControlValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]camera.ControlValue, len(r.committed))
	for id, v := range r.committed {
		if d, ok := r.byID[id]; ok {
			out[d.Name] = v
		}
	}
	return out
}

// ApplyTo writes the committed set into dst
func (r *Registry) ApplyTo(dst camera.ControlList) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, v := range r.committed {
		dst[k] = v
	}
}

// Reset clears the committed set. Called at shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = make(camera.ControlList)
}
