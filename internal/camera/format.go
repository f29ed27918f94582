package camera

import (
	"fmt"
	"strings"
)

// PixelFormat is a V4L2 fourcc pixel format code
type PixelFormat uint32

// FourCC builds a PixelFormat from its four character code
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FormatYUYV   = FourCC('Y', 'U', 'Y', 'V')
	FormatUYVY   = FourCC('U', 'Y', 'V', 'Y')
	FormatYVYU   = FourCC('Y', 'V', 'Y', 'U')
	FormatVYUY   = FourCC('V', 'Y', 'U', 'Y')
	FormatRGB24  = FourCC('R', 'G', 'B', '3')
	FormatBGR24  = FourCC('B', 'G', 'R', '3')
	FormatRGBA32 = FourCC('A', 'B', '2', '4')
	FormatBGRA32 = FourCC('A', 'R', '2', '4')
	FormatGrey   = FourCC('G', 'R', 'E', 'Y')
	FormatY16    = FourCC('Y', '1', '6', ' ')
	FormatSRGGB8 = FourCC('R', 'G', 'G', 'B')
	FormatSBGGR8 = FourCC('B', 'A', '8', '1')
	FormatSGBRG8 = FourCC('G', 'B', 'R', 'G')
	FormatSGRBG8 = FourCC('G', 'R', 'B', 'G')
	FormatNV12   = FourCC('N', 'V', '1', '2')
	FormatYUV420 = FourCC('Y', 'U', '1', '2')
	FormatMJPEG  = FourCC('M', 'J', 'P', 'G')
)

var formatNames = map[PixelFormat]string{
	FormatYUYV:   "YUYV",
	FormatUYVY:   "UYVY",
	FormatYVYU:   "YVYU",
	FormatVYUY:   "VYUY",
	FormatRGB24:  "RGB24",
	FormatBGR24:  "BGR24",
	FormatRGBA32: "RGBA32",
	FormatBGRA32: "BGRA32",
	FormatGrey:   "GREY",
	FormatY16:    "Y16",
	FormatSRGGB8: "SRGGB8",
	FormatSBGGR8: "SBGGR8",
	FormatSGBRG8: "SGBRG8",
	FormatSGRBG8: "SGRBG8",
	FormatNV12:   "NV12",
	FormatYUV420: "YUV420",
	FormatMJPEG:  "MJPEG",
}

// IsValid reports whether the format is non-zero
func (f PixelFormat) IsValid() bool { return f != 0 }

// FourCCString returns the raw four character code
func (f PixelFormat) FourCCString() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// String returns the well-known name of the format, or its fourcc
func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	if !f.IsValid() {
		return "<invalid>"
	}
	return f.FourCCString()
}

// ParsePixelFormat accepts a well-known format name (case-insensitive) or a
// literal four character code.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range formatNames {
		if strings.EqualFold(name, s) {
			return f, nil
		}
	}
	if len(s) >= 1 && len(s) <= 4 {
		code := []byte("    ")
		copy(code, s)
		for _, c := range code {
			if c < 0x20 || c > 0x7e {
				return 0, fmt.Errorf("invalid pixel format %q", s)
			}
		}
		return FourCC(code[0], code[1], code[2], code[3]), nil
	}
	return 0, fmt.Errorf("invalid pixel format %q", s)
}

// Size is a width/height pair in pixels
type Size struct {
	Width  int
	Height int
}

// IsNull reports whether either dimension is zero
func (s Size) IsNull() bool { return s.Width == 0 || s.Height == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// StreamRole hints the device at the intended use of a stream
type StreamRole int

const (
	RoleRaw StreamRole = iota
	RoleStillCapture
	RoleVideoRecording
	RoleViewfinder
)

// String returns the configuration name of the role
func (r StreamRole) String() string {
	switch r {
	case RoleRaw:
		return "raw"
	case RoleStillCapture:
		return "still"
	case RoleVideoRecording:
		return "video"
	case RoleViewfinder:
		return "viewfinder"
	default:
		return "unknown"
	}
}

// ParseStreamRole maps a configuration name to a StreamRole
func ParseStreamRole(s string) (StreamRole, error) {
	switch strings.ToLower(s) {
	case "raw":
		return RoleRaw, nil
	case "still":
		return RoleStillCapture, nil
	case "video":
		return RoleVideoRecording, nil
	case "viewfinder":
		return RoleViewfinder, nil
	default:
		return 0, fmt.Errorf("invalid stream role %q", s)
	}
}

// FormatSizes lists the frame sizes a device offers for one pixel format,
// smallest first.
type FormatSizes struct {
	Format PixelFormat
	Sizes  []Size
}

// StreamFormats lists the formats a device offers, in enumeration order
type StreamFormats []FormatSizes

// PixelFormats returns the formats in enumeration order
func (sf StreamFormats) PixelFormats() []PixelFormat {
	out := make([]PixelFormat, 0, len(sf))
	for _, fs := range sf {
		out = append(out, fs.Format)
	}
	return out
}

// Sizes returns the sizes offered for f
func (sf StreamFormats) Sizes(f PixelFormat) []Size {
	for _, fs := range sf {
		if fs.Format == f {
			return fs.Sizes
		}
	}
	return nil
}

// Contains reports whether f is offered
func (sf StreamFormats) Contains(f PixelFormat) bool {
	for _, fs := range sf {
		if fs.Format == f {
			return true
		}
	}
	return false
}

// Filter returns the formats for which keep is true, preserving order
func (sf StreamFormats) Filter(keep func(PixelFormat) bool) StreamFormats {
	var out StreamFormats
	for _, fs := range sf {
		if keep(fs.Format) {
			out = append(out, fs)
		}
	}
	return out
}

func (sf StreamFormats) String() string {
	var b strings.Builder
	b.WriteString("stream formats:")
	for _, fs := range sf {
		b.WriteString(" ")
		b.WriteString(fs.Format.String())
		b.WriteString("{")
		for i, s := range fs.Sizes {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(s.String())
		}
		b.WriteString("}")
	}
	return b.String()
}
