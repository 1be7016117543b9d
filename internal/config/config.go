// Package config loads engine-service and dlq-monitor configuration from
// environment variables. The one setting read from a file is the optional
// YAML failover policy document (LoadFailoverPolicyYAML); model IDs and
// every other setting come from env vars. Grounded on the env-var
// loading helpers in registry/cmd/registry/main.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine service and DLQ monitor need.
type Config struct {
	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string
	// DLQHTTPAddr is the listen address for the standalone DLQ monitor's
	// admin routes, distinct from HTTPAddr so both processes can run on
	// the same host.
	DLQHTTPAddr string
	// RedisURL is the State Store's backing Redis connection string.
	RedisURL string
	// RedisPassword is optional.
	RedisPassword string

	// MongoURI, MongoDatabase configure the checkpoint mirror. MongoURI
	// empty disables the mirror.
	MongoURI      string
	MongoDatabase string

	// SegmentTimeout, CheckpointThreshold, SafetyMargin tune the Workflow
	// Machine's segment budget.
	SegmentTimeout      time.Duration
	CheckpointThreshold time.Duration
	SafetyMargin        time.Duration

	// DLQScanInterval, DLQInactivityThreshold tune the DLQ Monitor.
	DLQScanInterval        time.Duration
	DLQInactivityThreshold time.Duration
	// MaxRecoveryAttempts bounds how many checkpoint-resume attempts the DLQ
	// Monitor makes for a stalled execution before giving up and writing a
	// DLQ entry.
	MaxRecoveryAttempts int

	// ToolGatewayAddr is the remote tool gateway's gRPC address, empty to
	// disable remote tool resolution.
	ToolGatewayAddr string

	// ModelProvider selects which features/model adapter the Replanner
	// uses ("anthropic", "bedrock", or "openai").
	ModelProvider string
	ModelID       string

	// FailoverPolicyPath points at a YAML failover policy document; empty
	// uses failover.DefaultPolicyYAML.
	FailoverPolicyPath string

	// WebhookSigningSecret signs outbound httpqueue continuation requests.
	WebhookSigningSecret string

	// QueueBackend selects the segment-continuation queue: "http" (the
	// default, a signed webhook loop back to WorkerURL) or "temporal".
	QueueBackend string
	// WorkerURL is this process's own /internal/segment URL, used as the
	// httpqueue delivery target when QueueBackend is "http".
	WorkerURL string

	// TemporalHostPort, TemporalTaskQueue, TemporalWorkflowName configure
	// the temporalqueue backend when QueueBackend is "temporal". The same
	// Temporal client also backs a Bedrock replanner model, since Bedrock's
	// adapter requires one regardless.
	TemporalHostPort     string
	TemporalTaskQueue    string
	TemporalWorkflowName string

	// PulseEventStreamMaxLen bounds the shared Pulse events stream; 0
	// leaves it unbounded. EnablePulseEventBus (ENABLE_PULSE_EVENT_BUS=true)
	// turns the Pulse transport on; when false the Event Bus runs purely
	// in-process (single-node deployments).
	PulseEventStreamMaxLen int
	EnablePulseEventBus    bool

	// PoolName names this cluster for the DLQ Monitor's distributed
	// ticker; nodes sharing a name and Redis coordinate so only one of
	// them scans at a time. Empty disables clustering (local ticker only).
	PoolName string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() Config {
	return Config{
		HTTPAddr:      envOr("ENGINE_HTTP_ADDR", ":8080"),
		DLQHTTPAddr:   envOr("DLQ_HTTP_ADDR", ":8081"),
		RedisURL:      envOr("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: envOr("MONGO_DATABASE", "saga_engine"),

		SegmentTimeout:      envDurationOr("SEGMENT_TIMEOUT", 9*time.Second),
		CheckpointThreshold: envDurationOr("CHECKPOINT_THRESHOLD", 7*time.Second),
		SafetyMargin:        envDurationOr("SEGMENT_SAFETY_MARGIN", 500*time.Millisecond),

		DLQScanInterval:        envDurationOr("DLQ_SCAN_INTERVAL", 1*time.Minute),
		DLQInactivityThreshold: envDurationOr("DLQ_INACTIVITY_THRESHOLD", 15*time.Minute),
		MaxRecoveryAttempts:    envIntOr("MAX_RECOVERY_ATTEMPTS", 3),

		ToolGatewayAddr: os.Getenv("TOOL_GATEWAY_ADDR"),

		ModelProvider: envOr("REPLANNER_MODEL_PROVIDER", "anthropic"),
		ModelID:       os.Getenv("REPLANNER_MODEL_ID"),

		FailoverPolicyPath: os.Getenv("FAILOVER_POLICY_PATH"),

		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),

		QueueBackend: envOr("QUEUE_BACKEND", "http"),
		WorkerURL:    os.Getenv("WORKER_URL"),

		TemporalHostPort:     envOr("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalTaskQueue:    envOr("TEMPORAL_TASK_QUEUE", "saga-engine"),
		TemporalWorkflowName: envOr("TEMPORAL_WORKFLOW_NAME", "SagaSegment"),

		PulseEventStreamMaxLen: envIntOr("PULSE_EVENT_STREAM_MAX_LEN", 0),
		EnablePulseEventBus:    os.Getenv("ENABLE_PULSE_EVENT_BUS") == "true",

		PoolName: envOr("POOL_NAME", "saga-engine"),
	}
}

// LoadFailoverPolicyYAML reads cfg.FailoverPolicyPath, if set.
func LoadFailoverPolicyYAML(cfg Config) ([]byte, bool, error) {
	if cfg.FailoverPolicyPath == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(cfg.FailoverPolicyPath)
	if err != nil {
		return nil, false, fmt.Errorf("config: read failover policy file: %w", err)
	}
	var probe any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, false, fmt.Errorf("config: failover policy file is not valid YAML: %w", err)
	}
	return data, true, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
