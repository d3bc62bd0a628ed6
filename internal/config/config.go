package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Collection names the event collection the broker serves.
	Collection string        `json:"collection" yaml:"collection" validate:"required,excludesall=/"`
	Broker     BrokerConfig  `json:"broker" yaml:"broker"`
	Session    SessionConfig `json:"session" yaml:"session"`
	Client     ClientConfig  `json:"client" yaml:"client"`
	Log        LogConfig     `json:"log" yaml:"log"`
}

// BrokerConfig tunes the broker's fan-out and connections.
type BrokerConfig struct {
	OutboundQueue  int `json:"outboundQueue" yaml:"outboundQueue" validate:"gt=0"`
	WriteTimeoutMs int `json:"writeTimeoutMs" yaml:"writeTimeoutMs" validate:"gte=0"`
	PingIntervalMs int `json:"pingIntervalMs" yaml:"pingIntervalMs" validate:"gte=0"`
	MaxFrameBytes  int `json:"maxFrameBytes" yaml:"maxFrameBytes" validate:"gt=0"`
}

// SessionConfig tunes a client session.
type SessionConfig struct {
	OutboundCapacity int    `json:"outboundCapacity" yaml:"outboundCapacity" validate:"gt=0"`
	InboundCapacity  int    `json:"inboundCapacity" yaml:"inboundCapacity" validate:"gt=0"`
	SendAttempts     int    `json:"sendAttempts" yaml:"sendAttempts" validate:"gt=0"`
	RetryDelayMs     int    `json:"retryDelayMs" yaml:"retryDelayMs" validate:"gte=0"`
	VerifyPayload    string `json:"verifyPayload" yaml:"verifyPayload"`
}

// ClientConfig identifies the submitting client and where it connects.
type ClientConfig struct {
	URL                string `json:"url" yaml:"url"`
	Author             string `json:"author" yaml:"author"`
	Machine            string `json:"machine" yaml:"machine"`
	BackfillIntervalMs int    `json:"backfillIntervalMs" yaml:"backfillIntervalMs" validate:"gte=0"`
	BackfillBatch      int    `json:"backfillBatch" yaml:"backfillBatch" validate:"gt=0"`
}

// LogConfig configures the process logger. Redact lists field keys whose
// values are masked; SampleThereafter > 0 thins repeated non-error records.
type LogConfig struct {
	Level            string   `json:"level" yaml:"level" validate:"omitempty,oneof=debug trace info warn warning error fatal"`
	Format           string   `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Redact           []string `json:"redact" yaml:"redact" validate:"dive,required"`
	SampleInitial    int      `json:"sampleInitial" yaml:"sampleInitial" validate:"gte=0"`
	SampleThereafter int      `json:"sampleThereafter" yaml:"sampleThereafter" validate:"gte=0"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Collection: "events",
		Broker: BrokerConfig{
			OutboundQueue:  1024,
			WriteTimeoutMs: 5000,
			PingIntervalMs: 30000,
			MaxFrameBytes:  1 << 20,
		},
		Session: SessionConfig{
			OutboundCapacity: 128,
			InboundCapacity:  128,
			SendAttempts:     10,
			RetryDelayMs:     100,
			VerifyPayload:    "echo\n",
		},
		Client: ClientConfig{
			URL:                "ws://127.0.0.1:7070/v1/ws",
			Author:             defaultAuthor(),
			Machine:            defaultMachine(),
			BackfillIntervalMs: 1000,
			BackfillBatch:      4096,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func defaultAuthor() string {
	for _, k := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "anonymous"
}

func defaultMachine() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects values the broker or session cannot run with. The first
// failing field is reported.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("config: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("config: %w", err)
}

// WriteTimeout is the per-frame write deadline for broker connections.
func (b BrokerConfig) WriteTimeout() time.Duration { return ms(b.WriteTimeoutMs) }

// PingInterval is the transport keepalive period; zero disables it.
func (b BrokerConfig) PingInterval() time.Duration { return ms(b.PingIntervalMs) }

// RetryDelay is the fixed pause between send attempts.
func (s SessionConfig) RetryDelay() time.Duration { return ms(s.RetryDelayMs) }

// BackfillInterval is how often the tail client asks for missing ids.
func (c ClientConfig) BackfillInterval() time.Duration { return ms(c.BackfillIntervalMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
