// Package calibration loads camera intrinsics in the ROS camera_info YAML
// format and hands out CameraInfo values for published frames.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedURL = errors.New("unsupported calibration url")
	ErrMatrixShape    = errors.New("matrix has the wrong shape")
)

// Header stamps a frame or its camera info
type Header struct {
	Stamp   time.Time
	FrameID string
}

// ROI is the region of interest of a camera info
type ROI struct {
	X, Y, Width, Height int
	DoRectify           bool
}

// CameraInfo describes the intrinsic calibration of a camera
type CameraInfo struct {
	Header          Header
	Width           int
	Height          int
	DistortionModel string
	D               []float64
	K               [9]float64
	R               [9]float64
	P               [12]float64
	BinningX        int
	BinningY        int
	ROI             ROI
}

// IsCalibrated reports whether the intrinsic matrix is set
func (c CameraInfo) IsCalibrated() bool {
	return c.K[0] != 0
}

type matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []float64 `yaml:"data"`
}

// file mirrors the camera_info YAML written by ROS calibration tools
type file struct {
	ImageWidth             int    `yaml:"image_width"`
	ImageHeight            int    `yaml:"image_height"`
	CameraName             string `yaml:"camera_name"`
	CameraMatrix           matrix `yaml:"camera_matrix"`
	DistortionModel        string `yaml:"distortion_model"`
	DistortionCoefficients matrix `yaml:"distortion_coefficients"`
	RectificationMatrix    matrix `yaml:"rectification_matrix"`
	ProjectionMatrix       matrix `yaml:"projection_matrix"`
}

func (m matrix) into(dst []float64, name string) error {
	if len(m.Data) == 0 {
		return nil
	}
	if len(m.Data) != len(dst) || (m.Rows*m.Cols != 0 && m.Rows*m.Cols != len(m.Data)) {
		return fmt.Errorf("calibration: %s: %w (%dx%d, %d values)", name, ErrMatrixShape, m.Rows, m.Cols, len(m.Data))
	}
	copy(dst, m.Data)
	return nil
}

// Parse decodes camera_info YAML
func Parse(data []byte) (CameraInfo, string, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return CameraInfo{}, "", fmt.Errorf("calibration: parse: %w", err)
	}

	info := CameraInfo{
		Width:           f.ImageWidth,
		Height:          f.ImageHeight,
		DistortionModel: f.DistortionModel,
		D:               append([]float64(nil), f.DistortionCoefficients.Data...),
	}
	if err := f.CameraMatrix.into(info.K[:], "camera_matrix"); err != nil {
		return CameraInfo{}, "", err
	}
	if err := f.RectificationMatrix.into(info.R[:], "rectification_matrix"); err != nil {
		return CameraInfo{}, "", err
	}
	if err := f.ProjectionMatrix.into(info.P[:], "projection_matrix"); err != nil {
		return CameraInfo{}, "", err
	}
	return info, f.CameraName, nil
}

// Provider serves the camera info of one camera
type Provider struct {
	mu   sync.RWMutex
	name string
	url  string
	info CameraInfo
}

// New loads calibration from calibURL. An empty url yields an uncalibrated
// provider; a url that cannot be read is logged and also yields an
// uncalibrated provider, so a missing calibration never stops capture.
//
// Supported urls: "file:///path/to/file.yaml" and plain paths.
func New(cameraName, calibURL string) *Provider {
	p := &Provider{name: cameraName, url: calibURL}
	if calibURL == "" {
		slog.Info("calibration: no calibration url, camera uncalibrated", "camera", cameraName)
		return p
	}

	info, err := Load(calibURL)
	if err != nil {
		slog.Warn("calibration: failed to load calibration, camera uncalibrated",
			"camera", cameraName,
			"url", calibURL,
			"error", err,
		)
		return p
	}
	p.info = info
	slog.Info("calibration: loaded",
		"camera", cameraName,
		"url", calibURL,
		"width", info.Width,
		"height", info.Height,
		"model", info.DistortionModel,
	)
	return p
}

// Load reads camera_info YAML from calibURL
func Load(calibURL string) (CameraInfo, error) {
	path, err := resolve(calibURL)
	if err != nil {
		return CameraInfo{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CameraInfo{}, fmt.Errorf("calibration: read: %w", err)
	}
	info, _, err := Parse(data)
	return info, err
}

func resolve(calibURL string) (string, error) {
	if !strings.Contains(calibURL, "://") {
		return calibURL, nil
	}
	u, err := url.Parse(calibURL)
	if err != nil {
		return "", fmt.Errorf("calibration: %w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("calibration: %w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	return u.Path, nil
}

// CameraInfo returns the current camera info. The header is left for the
// caller to stamp.
func (p *Provider) CameraInfo() CameraInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := p.info
	info.D = append([]float64(nil), p.info.D...)
	return info
}

// SetSize fills in the image size of an uncalibrated provider and warns
// when a loaded calibration was made for a different size.
func (p *Provider) SetSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.info.IsCalibrated() {
		p.info.Width, p.info.Height = width, height
		return
	}
	if p.info.Width != width || p.info.Height != height {
		slog.Warn("calibration: calibrated size differs from stream size",
			"camera", p.name,
			"calibrated", fmt.Sprintf("%dx%d", p.info.Width, p.info.Height),
			"stream", fmt.Sprintf("%dx%d", width, height),
		)
	}
}

// Name returns the camera name the provider was created for
func (p *Provider) Name() string { return p.name }
