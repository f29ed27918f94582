//go:build linux && (amd64 || arm64)

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request codes (64-bit layouts)
const (
	vidiocQueryCap       = 0x80685600
	vidiocEnumFmt        = 0xc0405602
	vidiocGFmt           = 0xc0d05604
	vidiocSFmt           = 0xc0d05605
	vidiocReqBufs        = 0xc0145608
	vidiocQueryBuf       = 0xc0585609
	vidiocQBuf           = 0xc058560f
	vidiocExpBuf         = 0xc0405610
	vidiocDQBuf          = 0xc0585611
	vidiocStreamOn       = 0x40045612
	vidiocStreamOff      = 0x40045613
	vidiocTryFmt         = 0xc0d05640
	vidiocSExtCtrls      = 0xc0205648
	vidiocEnumFrameSizes = 0xc02c564a
	vidiocQueryExtCtrl   = 0xc0e85667
)

const (
	bufTypeVideoCapture = 1
	memoryMMap          = 1
	fieldNone           = 1

	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000

	bufFlagError              = 0x00000040
	bufFlagTimestampMask      = 0x0000e000
	bufFlagTimestampMonotonic = 0x00002000

	frmSizeTypeDiscrete   = 1
	frmSizeTypeContinuous = 2
	frmSizeTypeStepwise   = 3

	ctrlFlagNextCtrl     = 0x80000000
	ctrlFlagNextCompound = 0x40000000
	ctrlWhichCurVal      = 0
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2FmtDesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	MbusCode    uint32
	Reserved    [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format carries the single-planar member of the format union. The
// union is 8-byte aligned on 64-bit kernels.
type v4l2Format struct {
	Type uint32
	_    uint32
	Pix  v4l2PixFormat
	_    [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	M         uint64 // offset, userptr, planes or fd
	Length    uint32
	Reserved2 uint32
	RequestFD int32
}

type v4l2ExportBuffer struct {
	Type     uint32
	Index    uint32
	Plane    uint32
	Flags    uint32
	FD       int32
	Reserved [11]uint32
}

type v4l2FrmSizeEnum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	// discrete: width, height; stepwise: min_w, max_w, step_w, min_h, max_h, step_h
	Size     [6]uint32
	Reserved [2]uint32
}

type v4l2QueryExtCtrl struct {
	ID       uint32
	Type     uint32
	Name     [32]byte
	Minimum  int64
	Maximum  int64
	Step     uint64
	Default  int64
	Flags    uint32
	ElemSize uint32
	Elems    uint32
	NrOfDims uint32
	Dims     [4]uint32
	Reserved [32]uint32
}

// v4l2ExtControl is packed in the kernel ABI; it is marshalled by hand
const extControlSize = 20

type v4l2ExtControls struct {
	Which     uint32
	Count     uint32
	ErrorIdx  uint32
	RequestFD int32
	Reserved  uint32
	Controls  unsafe.Pointer
}

// Layout checks against the kernel ABI
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2FmtDesc{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2ExportBuffer{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2FrmSizeEnum{})]byte{}
	_ [232]byte = [unsafe.Sizeof(v4l2QueryExtCtrl{})]byte{}
	_ [32]byte  = [unsafe.Sizeof(v4l2ExtControls{})]byte{}
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}
