package publish

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
)

// Envelope is the wire form of one frame and its camera info
type Envelope struct {
	StampNS   int64  `msgpack:"stamp_ns"`
	FrameID   string `msgpack:"frame_id"`
	Sequence  uint32 `msgpack:"seq"`
	TraceID   string `msgpack:"trace_id"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Encoding  string `msgpack:"encoding"`
	BigEndian bool   `msgpack:"is_bigendian"`
	Step      int    `msgpack:"step"`
	Data      []byte `msgpack:"data"`

	CameraInfo *WireCameraInfo `msgpack:"camera_info,omitempty"`
}

// WireCameraInfo is the wire form of calibration.CameraInfo
type WireCameraInfo struct {
	Width           int       `msgpack:"width"`
	Height          int       `msgpack:"height"`
	DistortionModel string    `msgpack:"distortion_model"`
	D               []float64 `msgpack:"d"`
	K               []float64 `msgpack:"k"`
	R               []float64 `msgpack:"r"`
	P               []float64 `msgpack:"p"`
}

// Encode serialises f and info with msgpack. Uncalibrated camera info is
// left out.
func Encode(f emitter.Frame, info calibration.CameraInfo) ([]byte, error) {
	env := Envelope{
		StampNS:   f.Header.Stamp.UnixNano(),
		FrameID:   f.Header.FrameID,
		Sequence:  f.Sequence,
		TraceID:   f.TraceID,
		Width:     f.Width,
		Height:    f.Height,
		Encoding:  f.Encoding,
		BigEndian: f.BigEndian,
		Step:      f.Step,
		Data:      f.Data,
	}
	if info.IsCalibrated() {
		env.CameraInfo = &WireCameraInfo{
			Width:           info.Width,
			Height:          info.Height,
			DistortionModel: info.DistortionModel,
			D:               info.D,
			K:               info.K[:],
			R:               info.R[:],
			P:               info.P[:],
		}
	}

	b, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("publish: encode frame %d: %w", f.Sequence, err)
	}
	return b, nil
}

// Decode parses an encoded envelope
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("publish: decode: %w", err)
	}
	return env, nil
}
