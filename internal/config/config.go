// Package config defines the tcpline driver configuration and its decoding.
//
// The configuration is decoded and validated once, before a driver is
// constructed. A driver never sees an invalid Config.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Wire formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the driver configuration. Field names follow the wire config
// consumed by the host application.
type Config struct {
	Host           string    `json:"host" yaml:"host"`
	Port           int       `json:"port" yaml:"port"`
	Format         string    `json:"format" yaml:"format"`
	CSV            CSVConfig `json:"csv" yaml:"csv"`
	EmitIntervalMs uint64    `json:"emitIntervalMs" yaml:"emitIntervalMs"`
	DedupeWithinMs uint64    `json:"dedupeWithinMs" yaml:"dedupeWithinMs"`
	Offsets        Offsets   `json:"offsets" yaml:"offsets"`
	Reconnect      Reconnect `json:"reconnect" yaml:"reconnect"`
}

// CSVConfig describes delimited-text framing.
type CSVConfig struct {
	// HasHeader marks the first non-empty line of every connection as a
	// header row naming the columns.
	HasHeader bool `json:"hasHeader" yaml:"hasHeader"`
	// Columns names the positional fields. Empty means the header row, or
	// DefaultColumns when there is no header.
	Columns   []string `json:"columns" yaml:"columns"`
	Delimiter string   `json:"delimiter" yaml:"delimiter"`
}

// Offsets are additive calibration offsets for the two temperature channels.
type Offsets struct {
	BtC float64 `json:"btC" yaml:"btC"`
	EtC float64 `json:"etC" yaml:"etC"`
}

// Reconnect is the reconnect policy.
type Reconnect struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	MinBackoffMs uint64 `json:"minBackoffMs" yaml:"minBackoffMs"`
	MaxBackoffMs uint64 `json:"maxBackoffMs" yaml:"maxBackoffMs"`
}

// DefaultColumns is the CSV column order used when neither explicit columns
// nor a header row are available.
var DefaultColumns = []string{"ts", "btC", "etC", "powerPct", "fanPct", "drumRpm"}

// minReadTimeout floors the wait applied to telemetry reads.
const minReadTimeout = 500 * time.Millisecond

// Defaults returns the values applied to fields absent from the input.
func Defaults() Config {
	return Config{
		Format: FormatJSONL,
		CSV: CSVConfig{
			Delimiter: ",",
		},
		EmitIntervalMs: 1000,
		Reconnect: Reconnect{
			Enabled:      true,
			MinBackoffMs: 500,
			MaxBackoffMs: 10000,
		},
	}
}

// Parse decodes a JSON config over Defaults and validates it.
// Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseYAML decodes a YAML config over Defaults and validates it.
// Unknown fields are rejected.
func ParseYAML(data []byte) (Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads a config file. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, c.Port)
	}
	switch c.Format {
	case FormatJSONL:
	case FormatCSV:
		if c.CSV.Delimiter == "" {
			return fmt.Errorf("%w: csv delimiter must not be empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported format %q (supported: %s, %s)", ErrInvalid, c.Format, FormatJSONL, FormatCSV)
	}
	if c.Reconnect.MinBackoffMs > c.Reconnect.MaxBackoffMs {
		return fmt.Errorf("%w: minBackoffMs (%d) must not exceed maxBackoffMs (%d)",
			ErrInvalid, c.Reconnect.MinBackoffMs, c.Reconnect.MaxBackoffMs)
	}
	return nil
}

// Addr returns the endpoint as host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ReadTimeout bounds how long a telemetry read waits for a sample: twice the
// emit interval, never less than 500ms.
func (c Config) ReadTimeout() time.Duration {
	return max(millis(c.EmitIntervalMs)*2, minReadTimeout)
}

// EmitInterval is the consumer's polling period, never less than 10ms.
func (c Config) EmitInterval() time.Duration {
	return max(millis(c.EmitIntervalMs), 10*time.Millisecond)
}

// DedupeWindowMs is the minimum timestamp spacing between accepted
// samples, saturated to the int64 range.
func (c Config) DedupeWindowMs() int64 {
	return int64(min(c.DedupeWithinMs, math.MaxInt64))
}

// MinBackoff is the first reconnect delay.
func (c Config) MinBackoff() time.Duration {
	return millis(c.Reconnect.MinBackoffMs)
}

// MaxBackoff caps the reconnect delay.
func (c Config) MaxBackoff() time.Duration {
	return millis(c.Reconnect.MaxBackoffMs)
}

// millis converts a millisecond count, saturating at a quarter of the
// largest Duration so callers may still double it.
func millis(ms uint64) time.Duration {
	const limit = uint64(math.MaxInt64/4) / uint64(time.Millisecond)
	return time.Duration(min(ms, limit)) * time.Millisecond
}
