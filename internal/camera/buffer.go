package camera

// InvalidOffset marks a plane whose offset inside its fd is unknown
const InvalidOffset = -1

// Plane is one contiguous memory segment of a frame buffer
type Plane struct {
	FD     int
	Offset int
	Length int
}

// FrameStatus is the capture outcome recorded in a buffer's metadata
type FrameStatus int

const (
	FrameSuccess FrameStatus = iota
	FrameError
	FrameCancelled
)

func (s FrameStatus) String() string {
	switch s {
	case FrameSuccess:
		return "success"
	case FrameError:
		return "error"
	case FrameCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PlaneMetadata carries per-plane capture results
type PlaneMetadata struct {
	BytesUsed int
}

// FrameMetadata carries the capture results of one buffer
type FrameMetadata struct {
	Status   FrameStatus
	Sequence uint32
	// Timestamp is the device clock capture time in nanoseconds
	Timestamp uint64
	Planes    []PlaneMetadata
}

// FrameBuffer is a device-allocated buffer receiving one frame.
//
// The metadata is written by the backend before the owning request is
// signalled complete and must only be read from the completion handler.
type FrameBuffer struct {
	planes   []Plane
	metadata FrameMetadata
}

// NewFrameBuffer returns a buffer backed by planes
func NewFrameBuffer(planes []Plane) *FrameBuffer {
	return &FrameBuffer{planes: append([]Plane(nil), planes...)}
}

// Planes returns the buffer's memory planes
func (b *FrameBuffer) Planes() []Plane { return b.planes }

// Metadata returns the results of the last capture into the buffer
func (b *FrameBuffer) Metadata() FrameMetadata { return b.metadata }

// SetMetadata records capture results. Backends only.
func (b *FrameBuffer) SetMetadata(m FrameMetadata) { b.metadata = m }
