package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"tcpline/internal/logging"
	"tcpline/internal/telemetry"
)

const (
	defaultTopicPrefix = "tcpline/telemetry"
	defaultMQTTTimeout = 5 * time.Second
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string // host:port
	TopicPrefix string
	ClientID    string // generated when empty
	Username    string
	Password    string //nolint:gosec // config field, not a hardcoded credential
	QoS         byte
	// Timeout bounds both the initial connect and each publish.
	Timeout time.Duration
	Logger  *slog.Logger
}

// MQTT publishes each point as JSON to <prefix>/<machineId>.
type MQTT struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTT connects to the broker and returns the sink. The client
// reconnects on its own after the initial connection succeeds.
func NewMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMQTTTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tcpline-" + uuid.NewString()[:8]
	}
	logger := logging.Default(cfg.Logger).With("component", "sink", "type", "mqtt", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newMQTT(client, cfg, logger), nil
}

func newMQTT(client mqtt.Client, cfg MQTTConfig, logger *slog.Logger) *MQTT {
	return &MQTT{
		client:  client,
		prefix:  cfg.TopicPrefix,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Topic returns the topic points for machineID are published to.
func (s *MQTT) Topic(machineID string) string {
	if s.prefix == "" {
		return machineID
	}
	return s.prefix + "/" + machineID
}

func (s *MQTT) Publish(ctx context.Context, p telemetry.Point) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	topic := s.Topic(p.MachineID)
	if err := waitToken(ctx, s.client.Publish(topic, s.qos, false, payload), s.timeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	s.logger.Debug("telemetry published", "topic", topic, "size", len(payload))
	return nil
}

// Close disconnects, allowing in-flight publishes a short grace period.
func (s *MQTT) Close() error {
	s.client.Disconnect(250)
	return nil
}

var errTimeout = errors.New("timed out")

// waitToken waits for t to complete, ctx to end, or timeout to pass.
func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errTimeout
	}
}
