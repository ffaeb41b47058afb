package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tcpline/internal/config"
	"tcpline/internal/lineparse"
	"tcpline/internal/logging"
	"tcpline/internal/telemetry"
)

func point(machine string, btC float64) telemetry.Point {
	return telemetry.Point{
		TS:             "2024-01-01T00:00:01.000Z",
		MachineID:      machine,
		ElapsedSeconds: 1,
		BtC:            &btC,
	}
}

func TestWriterEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, v := range []float64{180, 181.5} {
		if err := w.Publish(context.Background(), point("r1", v)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got["machineId"] != "r1" || got["btC"] != 181.5 {
		t.Errorf("unexpected record: %v", got)
	}
}

func TestWriterPublishesParsedNonFiniteInput(t *testing.T) {
	cfg := config.Defaults()
	cfg.Format = config.FormatJSONL
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := lineparse.New(cfg).Parse(`{"btC":"NaN","etC":"Infinity","fanPct":40,"note":"NaN"}`, now)
	if err != nil || s == nil {
		t.Fatalf("Parse = %v, %v", s, err)
	}

	var buf bytes.Buffer
	if err := NewWriter(&buf).Publish(context.Background(), telemetry.NewPoint(*s, "r1", now)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if _, ok := got["btC"]; ok {
		t.Errorf("btC present: %v", got)
	}
	if got["fanPct"] != 40.0 {
		t.Errorf("fanPct = %v, want 40", got["fanPct"])
	}
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		raw                string
		scheme, host, path string
		params             map[string]string
	}{
		{"", "", "", "", nil},
		{"stdout:", "stdout", "", "", nil},
		{"mqtt://broker:1883/plant/roast", "mqtt", "broker:1883", "plant/roast", nil},
		{"mqtt://broker:1883?qos=1", "mqtt", "broker:1883", "", map[string]string{"qos": "1"}},
		{"kafka://b1:9092,b2:9092/telemetry?tls=true", "kafka", "b1:9092,b2:9092", "telemetry", map[string]string{"tls": "true"}},
		{"KAFKA://b1/t/", "kafka", "b1", "t", nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			scheme, host, path, params, err := splitURL(tt.raw)
			if err != nil {
				t.Fatalf("splitURL: %v", err)
			}
			if scheme != tt.scheme || host != tt.host || path != tt.path {
				t.Errorf("got (%q, %q, %q), want (%q, %q, %q)", scheme, host, path, tt.scheme, tt.host, tt.path)
			}
			for k, v := range tt.params {
				if params[k] != v {
					t.Errorf("param %s = %q, want %q", k, params[k], v)
				}
			}
		})
	}

	if _, _, _, _, err := splitURL("no-scheme"); err == nil {
		t.Error("expected error for missing scheme")
	}
}

func TestOpenStdout(t *testing.T) {
	for _, raw := range []string{"", "stdout:", "stdout://"} {
		s, err := Open(context.Background(), raw, nil)
		if err != nil {
			t.Fatalf("Open(%q): %v", raw, err)
		}
		if _, ok := s.(*Writer); !ok {
			t.Fatalf("Open(%q) = %T, want *Writer", raw, s)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("closing stdout sink: %v", err)
		}
	}
}

func TestOpenRejects(t *testing.T) {
	for _, raw := range []string{
		"file:///tmp/x",
		"mqtt:///prefix",
		"mqtt://broker:1883?qos=3",
		"mqtt://broker:1883?timeout=soon",
		"kafka:///topic",
		"kafka://broker:9092",
		"kafka://broker:9092/t?sasl_mechanism=gssapi",
	} {
		if s, err := Open(context.Background(), raw, nil); err == nil {
			s.Close()
			t.Errorf("Open(%q): expected error", raw)
		}
	}
}

func TestOpenKafka(t *testing.T) {
	s, err := Open(context.Background(), "kafka://b1:9092, b2:9092/roast?tls=true&sasl_mechanism=SCRAM-SHA-256&sasl_user=u&sasl_password=p", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	k, ok := s.(*Kafka)
	if !ok {
		t.Fatalf("Open = %T, want *Kafka", s)
	}
	if len(k.cfg.Brokers) != 2 || k.cfg.Brokers[1] != "b2:9092" {
		t.Errorf("brokers = %q", k.cfg.Brokers)
	}
	if k.cfg.Topic != "roast" || !k.cfg.TLS {
		t.Errorf("cfg = %+v", k.cfg)
	}
	if k.cfg.SASL == nil || k.cfg.SASL.Mechanism != "scram-sha-256" || k.cfg.SASL.User != "u" {
		t.Errorf("sasl = %+v", k.cfg.SASL)
	}
}

func TestParseQoS(t *testing.T) {
	for in, want := range map[string]byte{"": 0, "0": 0, "1": 1, "2": 2} {
		got, err := parseQoS(in)
		if err != nil || got != want {
			t.Errorf("parseQoS(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"3", "-1", "one"} {
		if _, err := parseQoS(in); err == nil {
			t.Errorf("parseQoS(%q): expected error", in)
		}
	}
}

// --- MQTT ---

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes. Methods the sink never calls are left to
// the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	published    []published
	token        mqtt.Token
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic, qos, payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestMQTTPublishesPerMachineTopic(t *testing.T) {
	client := &fakeClient{}
	s := newMQTT(client, MQTTConfig{TopicPrefix: "plant/roast", QoS: 1, Timeout: time.Second}, logging.Discard())

	if err := s.Publish(context.Background(), point("r7", 200)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.published))
	}
	got := client.published[0]
	if got.topic != "plant/roast/r7" || got.qos != 1 {
		t.Errorf("published to %q qos %d", got.topic, got.qos)
	}
	var p telemetry.Point
	if err := json.Unmarshal(got.payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.MachineID != "r7" || *p.BtC != 200 {
		t.Errorf("payload = %+v", p)
	}
	if !client.disconnected {
		t.Error("Close did not disconnect")
	}
}

func TestMQTTTopicWithoutPrefix(t *testing.T) {
	s := newMQTT(&fakeClient{}, MQTTConfig{}, logging.Discard())
	if got := s.Topic("m"); got != "m" {
		t.Errorf("Topic = %q, want m", got)
	}
}

func TestMQTTPublishErrors(t *testing.T) {
	brokerErr := errors.New("not authorized")
	client := &fakeClient{token: completedToken(brokerErr)}
	s := newMQTT(client, MQTTConfig{TopicPrefix: "p", Timeout: time.Second}, logging.Discard())
	if err := s.Publish(context.Background(), point("m", 1)); !errors.Is(err, brokerErr) {
		t.Fatalf("err = %v, want broker error", err)
	}

	client.token = &fakeToken{done: make(chan struct{})}
	s.timeout = 20 * time.Millisecond
	if err := s.Publish(context.Background(), point("m", 1)); !errors.Is(err, errTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.timeout = time.Minute
	if err := s.Publish(ctx, point("m", 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
