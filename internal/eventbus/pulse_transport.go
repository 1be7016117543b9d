package eventbus

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// streamName is the single Pulse stream every execution's lifecycle events
// are published to; consumers filter by ExecutionID client-side. A single
// shared stream keeps ordering guarantees simple at the scale this engine
// targets; sharding by execution ID is a future option if the stream's
// throughput becomes the bottleneck.
const streamName = "saga-engine:events"

// PulseTransport publishes Bus events onto a Pulse (Redis-backed) stream so
// subscribers in other processes (the HTTP API, the DLQ monitor) observe
// them without sharing memory with the Workflow Machine.
type PulseTransport struct {
	stream *streaming.Stream
	log    telemetry.Logger
}

// NewPulseTransport opens (or creates) the shared saga-engine events stream.
func NewPulseTransport(ctx context.Context, redisClient *redis.Client, log telemetry.Logger, maxLen int) (*PulseTransport, error) {
	var opts []streamopts.Stream
	if maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(maxLen))
	}
	stream, err := streaming.NewStream(streamName, redisClient, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open stream %s: %w", streamName, err)
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &PulseTransport{stream: stream, log: log}, nil
}

// Publish encodes evt and appends it to the stream.
func (t *PulseTransport) Publish(ctx context.Context, evt Event) error {
	raw, err := Encode(evt)
	if err != nil {
		return err
	}
	if _, err := t.stream.Add(ctx, string(evt.Type()), raw); err != nil {
		return fmt.Errorf("eventbus: publish to stream: %w", err)
	}
	return nil
}

// Subscribe opens a sink (consumer group) on the shared stream and forwards
// decoded events to bus until ctx is cancelled or the returned closer is
// invoked.
func (t *PulseTransport) Subscribe(ctx context.Context, sinkName string, bus Bus) (io.Closer, error) {
	sink, err := t.stream.NewSink(ctx, sinkName, streamopts.WithSinkBlockDuration(0))
	if err != nil {
		return nil, fmt.Errorf("eventbus: create sink %s: %w", sinkName, err)
	}
	events := sink.Subscribe()

	go func() {
		for {
			select {
			case <-ctx.Done():
				sink.Close(context.Background())
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				decoded, err := Decode(evt.Payload)
				if err != nil {
					t.log.Warn(ctx, "eventbus: dropping undecodable event", "error", err.Error())
					_ = sink.Ack(ctx, evt)
					continue
				}
				if pubErr := bus.Publish(ctx, decoded); pubErr != nil {
					t.log.Warn(ctx, "eventbus: subscriber error", "event_type", string(decoded.Type()), "error", pubErr.Error())
				}
				_ = sink.Ack(ctx, evt)
			}
		}
	}()

	return closerFunc(func() error {
		sink.Close(context.Background())
		return nil
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Close releases the underlying stream handle.
func (t *PulseTransport) Close(ctx context.Context) error {
	return t.stream.Destroy(ctx)
}
