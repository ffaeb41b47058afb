package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"tcpline/internal/logging"
	"tcpline/internal/telemetry"
)

// SASLConfig holds SASL authentication parameters.
type SASLConfig struct {
	Mechanism string // "plain", "scram-sha-256", "scram-sha-512"
	User      string
	Password  string //nolint:gosec // config field, not a hardcoded credential
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	TLS     bool
	SASL    *SASLConfig
	Logger  *slog.Logger
}

// Kafka produces each point as a JSON record keyed by machine id, so all
// points of one machine land on the same partition in order.
type Kafka struct {
	cfg    KafkaConfig
	client *kgo.Client
	logger *slog.Logger
}

// NewKafka creates the producer. Brokers are contacted lazily on the first
// publish.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		}))
	}
	if cfg.SASL != nil {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{
		cfg:    cfg,
		client: client,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "kafka", "topic", cfg.Topic),
	}, nil
}

func (s *Kafka) Publish(ctx context.Context, p telemetry.Point) error {
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.cfg.Topic,
		Key:   []byte(p.MachineID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", s.cfg.Topic, err)
	}
	s.logger.Debug("telemetry produced", "partition", rec.Partition, "offset", rec.Offset)
	return nil
}

func (s *Kafka) Close() error {
	s.client.Close()
	return nil
}

func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "plain":
		return plain.Auth{User: cfg.User, Pass: cfg.Password}.AsMechanism(), nil
	case "scram-sha-256":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "scram-sha-512":
		return scram.Auth{User: cfg.User, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q (supported: plain, scram-sha-256, scram-sha-512)", cfg.Mechanism)
	}
}
