// Package config loads the camera-capture YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/controls"
)

// Config represents the complete camera-capture configuration
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Backend          string `yaml:"backend"`            // v4l2, virtual

	Camera   CameraConfig        `yaml:"camera"`
	Stream   StreamConfig        `yaml:"stream"`
	Frame    FrameConfig         `yaml:"frame"`
	Controls controls.Parameters `yaml:"controls"`

	Log     LogConfig     `yaml:"log"`
	Warmup  WarmupConfig  `yaml:"warmup"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	GStream GStreamConfig `yaml:"gstreamer"`
	Status  StatusConfig  `yaml:"status"`
	Virtual VirtualConfig `yaml:"virtual"`
}

// CameraConfig selects the device
type CameraConfig struct {
	Name     string `yaml:"name"`      // substring of the device id; wins over index
	Index    int    `yaml:"index"`     // position in the enumeration
	Device   string `yaml:"device"`    // v4l2 only: glob of device nodes (default /dev/video*)
	CalibURL string `yaml:"calib_url"` // camera_info YAML, plain path or file://
}

// StreamConfig describes the requested stream
type StreamConfig struct {
	Role        string `yaml:"role"`         // raw, still, video, viewfinder
	PixelFormat string `yaml:"pixel_format"` // empty: first common format
	Width       int    `yaml:"width"`        // 0: largest size of the format
	Height      int    `yaml:"height"`
	BufferCount int    `yaml:"buffer_count"` // 0: device default
}

// FrameConfig controls how frames are built
type FrameConfig struct {
	ID           string `yaml:"frame_id"`
	UseWallClock bool   `yaml:"use_wall_clock"`
	RemoveStride bool   `yaml:"remove_stride"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WarmupConfig configures the startup FPS measurement
type WarmupConfig struct {
	DurationS int `yaml:"duration_s"` // 0 disables warm-up
}

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// GStreamConfig configures the GStreamer sink
type GStreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Launch  string `yaml:"launch"`
}

// StatusConfig configures the HTTP status API
type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// VirtualConfig configures the virtual backend
type VirtualConfig struct {
	FPS        float64 `yaml:"fps"`
	RowPadding int     `yaml:"row_padding"`
}

// ShutdownTimeout returns the graceful shutdown timeout
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// WarmupDuration returns the warm-up duration, zero when disabled
func (c *Config) WarmupDuration() time.Duration {
	return time.Duration(c.Warmup.DurationS) * time.Second
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	var cfg Config
	if err := Validate(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return &cfg
}
