package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays BUCFACE_* environment variables onto cfg. Values that do
// not parse are ignored.
func FromEnv(cfg *Config) {
	envString("BUCFACE_COLLECTION", &cfg.Collection)

	envInt("BUCFACE_BROKER_OUTBOUND_QUEUE", &cfg.Broker.OutboundQueue)
	envInt("BUCFACE_BROKER_WRITE_TIMEOUT_MS", &cfg.Broker.WriteTimeoutMs)
	envInt("BUCFACE_BROKER_PING_INTERVAL_MS", &cfg.Broker.PingIntervalMs)
	envInt("BUCFACE_BROKER_MAX_FRAME_BYTES", &cfg.Broker.MaxFrameBytes)

	envInt("BUCFACE_SESSION_OUTBOUND_CAPACITY", &cfg.Session.OutboundCapacity)
	envInt("BUCFACE_SESSION_INBOUND_CAPACITY", &cfg.Session.InboundCapacity)
	envInt("BUCFACE_SESSION_SEND_ATTEMPTS", &cfg.Session.SendAttempts)
	envInt("BUCFACE_SESSION_RETRY_DELAY_MS", &cfg.Session.RetryDelayMs)
	envString("BUCFACE_SESSION_VERIFY_PAYLOAD", &cfg.Session.VerifyPayload)

	envString("BUCFACE_URL", &cfg.Client.URL)
	envString("BUCFACE_AUTHOR", &cfg.Client.Author)
	envString("BUCFACE_MACHINE", &cfg.Client.Machine)
	envInt("BUCFACE_BACKFILL_INTERVAL_MS", &cfg.Client.BackfillIntervalMs)
	envInt("BUCFACE_BACKFILL_BATCH", &cfg.Client.BackfillBatch)

	envString("BUCFACE_LOG_LEVEL", &cfg.Log.Level)
	envString("BUCFACE_LOG_FORMAT", &cfg.Log.Format)
	envList("BUCFACE_LOG_REDACT", &cfg.Log.Redact)
	envInt("BUCFACE_LOG_SAMPLE_INITIAL", &cfg.Log.SampleInitial)
	envInt("BUCFACE_LOG_SAMPLE_THEREAFTER", &cfg.Log.SampleThereafter)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envList splits a comma separated value, dropping empty items.
func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
