// Package sink publishes telemetry points to downstream systems.
package sink

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tcpline/internal/telemetry"
)

// Sink receives telemetry points. Implementations are safe for concurrent
// use.
type Sink interface {
	Publish(ctx context.Context, p telemetry.Point) error
	Close() error
}

// Writer writes each point as one JSON object per line.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewWriter returns a sink writing to w. If w is an io.Closer other than
// os.Stdout or os.Stderr, Close closes it.
func NewWriter(w io.Writer) *Writer {
	s := &Writer{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.c = c
	}
	return s
}

func (s *Writer) Publish(_ context.Context, p telemetry.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(p)
}

func (s *Writer) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// Open builds a sink from a URL:
//
//	stdout:
//	mqtt://host:port/topic/prefix?qos=1&client_id=x&timeout=2s
//	kafka://broker1:9092,broker2:9092/topic?tls=true&sasl_mechanism=plain&sasl_user=u&sasl_password=p
//
// An empty URL means stdout.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Sink, error) {
	scheme, host, path, params, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "", "stdout":
		return NewWriter(os.Stdout), nil

	case "mqtt", "tcp":
		if host == "" {
			return nil, fmt.Errorf("mqtt sink: broker host is required")
		}
		qos, err := parseQoS(params["qos"])
		if err != nil {
			return nil, err
		}
		timeout, err := parseDuration(params["timeout"], defaultMQTTTimeout)
		if err != nil {
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		return NewMQTT(ctx, MQTTConfig{
			Broker:      host,
			TopicPrefix: cmp.Or(path, defaultTopicPrefix),
			ClientID:    params["client_id"],
			Username:    params["username"],
			Password:    params["password"],
			QoS:         qos,
			Timeout:     timeout,
			Logger:      logger,
		})

	case "kafka":
		if host == "" {
			return nil, fmt.Errorf("kafka sink: brokers are required")
		}
		if path == "" {
			return nil, fmt.Errorf("kafka sink: topic is required")
		}
		var sasl *SASLConfig
		if mech := params["sasl_mechanism"]; mech != "" {
			sasl = &SASLConfig{
				Mechanism: strings.ToLower(mech),
				User:      params["sasl_user"],
				Password:  params["sasl_password"],
			}
		}
		brokers := strings.Split(host, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		return NewKafka(KafkaConfig{
			Brokers: brokers,
			Topic:   path,
			TLS:     params["tls"] == "true",
			SASL:    sasl,
			Logger:  logger,
		})

	default:
		return nil, fmt.Errorf("unsupported sink scheme %q", scheme)
	}
}

// splitURL breaks a sink URL into scheme, authority, path (without the
// leading slash) and query parameters. The authority may hold a
// comma-separated host list, which net/url rejects.
func splitURL(raw string) (scheme, host, path string, params map[string]string, err error) {
	params = map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", params, nil
	}

	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return "", "", "", nil, fmt.Errorf("sink url %q: missing scheme", raw)
	}
	scheme = strings.ToLower(scheme)
	rest = strings.TrimPrefix(rest, "//")

	rest, query, _ := strings.Cut(rest, "?")
	host, path, _ = strings.Cut(rest, "/")
	path = strings.Trim(path, "/")

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("sink url %q: %w", raw, err)
	}
	for k := range values {
		params[k] = values.Get(k)
	}
	return scheme, host, path, params, nil
}

func parseQoS(s string) (byte, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n > 2 {
		return 0, fmt.Errorf("mqtt sink: qos must be 0, 1 or 2, got %q", s)
	}
	return byte(n), nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}
