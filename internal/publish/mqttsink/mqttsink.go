// Package mqttsink publishes frames to an MQTT broker as msgpack envelopes.
package mqttsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/calibration"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/emitter"
	"github.com/e7canasta/orion-care-sensor/modules/camera-capture/internal/publish"
)

var (
	ErrNotConnected   = errors.New("mqttsink: not connected")
	ErrConnectTimeout = errors.New("mqttsink: connection timeout")
	ErrPublishTimeout = errors.New("mqttsink: publish timeout")
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second
)

// Config configures the sink
type Config struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://)
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Retained bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// client is the part of mqtt.Client the sink uses
type client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Stats contains sink statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
	Bytes     uint64
}

// Sink implements emitter.Sink over MQTT
type Sink struct {
	cfg    Config
	client client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
	bytes     uint64
}

// New validates cfg and builds an auto-reconnecting client. It does not
// connect.
func New(cfg Config) (*Sink, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	s := &Sink{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		slog.Info("mqttsink: connection established",
			"broker", cfg.Broker,
			"client_id", cfg.ClientID,
			"topic", cfg.Topic,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		slog.Warn("mqttsink: connection lost, will auto-reconnect",
			"error", err,
			"broker", cfg.Broker,
			"max_retry_interval", "30s",
		)
	}

	s.client = mqtt.NewClient(opts)
	return s, nil
}

func newWithClient(cfg Config, c client) (*Sink, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, client: c}, nil
}

func validate(cfg *Config) error {
	if cfg.Broker == "" {
		return fmt.Errorf("mqttsink: broker is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("mqttsink: topic is required")
	}
	if strings.ContainsAny(cfg.Topic, "+#") {
		return fmt.Errorf("mqttsink: topic %q contains wildcards", cfg.Topic)
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqttsink: qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "camera-capture"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return nil
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. It returns when the connection
// is up, the connect timeout expires or ctx is done.
func (s *Sink) Connect(ctx context.Context) error {
	slog.Info("mqttsink: connecting to broker", "broker", s.cfg.Broker)

	token := s.client.Connect()
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return fmt.Errorf("mqttsink: connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttsink: connection failed: %w", err)
	}

	s.setConnected(true)
	return nil
}

// Publish implements emitter.Sink. It blocks for at most the publish
// timeout; run it behind a framebus pump, not on the capture path.
func (s *Sink) Publish(f emitter.Frame, info calibration.CameraInfo) error {
	if !s.isConnected() {
		s.countError()
		return ErrNotConnected
	}

	payload, err := publish.Encode(f, info)
	if err != nil {
		s.countError()
		return err
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retained, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		s.countError()
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("mqttsink: publish failed: %w", err)
	}

	s.mu.Lock()
	s.published++
	s.bytes += uint64(len(payload))
	s.mu.Unlock()

	slog.Debug("mqttsink: frame published",
		"topic", s.cfg.Topic,
		"seq", f.Sequence,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the connection with a 250ms grace period
func (s *Sink) Disconnect() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("mqttsink: disconnected", "broker", s.cfg.Broker)
	}
	s.setConnected(false)
}

// Stats returns sink statistics
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Connected: s.connected,
		Published: s.published,
		Errors:    s.errors,
		Bytes:     s.bytes,
	}
}

func (s *Sink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Sink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Sink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
