package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/camera"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

const (
	BackendV4L2    = "v4l2"
	BackendVirtual = "virtual"
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "camera-capture"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	switch cfg.Backend {
	case "":
		cfg.Backend = BackendV4L2
	case BackendV4L2, BackendVirtual:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendV4L2, BackendVirtual, cfg.Backend)
	}

	// Camera
	if cfg.Camera.Index < 0 {
		return fmt.Errorf("camera.index must be >= 0")
	}
	if cfg.Camera.Device == "" {
		cfg.Camera.Device = "/dev/video*"
	}

	// Stream
	if cfg.Stream.Role == "" {
		cfg.Stream.Role = camera.RoleViewfinder.String()
	}
	if _, err := camera.ParseStreamRole(cfg.Stream.Role); err != nil {
		return fmt.Errorf("stream.role: %w", err)
	}
	if cfg.Stream.PixelFormat != "" {
		if _, err := camera.ParsePixelFormat(cfg.Stream.PixelFormat); err != nil {
			return fmt.Errorf("stream.pixel_format: %w", err)
		}
	}
	if cfg.Stream.Width < 0 || cfg.Stream.Height < 0 {
		return fmt.Errorf("stream.width and stream.height must be >= 0")
	}
	if (cfg.Stream.Width == 0) != (cfg.Stream.Height == 0) {
		return fmt.Errorf("stream.width and stream.height must be set together")
	}
	if cfg.Stream.BufferCount < 0 {
		return fmt.Errorf("stream.buffer_count must be >= 0")
	}

	// Frame
	if cfg.Frame.ID == "" {
		cfg.Frame.ID = "camera"
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	if cfg.Warmup.DurationS < 0 {
		return fmt.Errorf("warmup.duration_s must be >= 0")
	}

	// MQTT
	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = fmt.Sprintf("care/camera/%s/frames", cfg.InstanceID)
	}
	if strings.ContainsAny(cfg.MQTT.Topic, "+#") {
		return fmt.Errorf("mqtt.topic must not contain wildcards")
	}

	// Virtual backend
	if cfg.Virtual.FPS <= 0 {
		cfg.Virtual.FPS = 30
	}
	if cfg.Virtual.RowPadding < 0 {
		return fmt.Errorf("virtual.row_padding must be >= 0")
	}

	return nil
}
