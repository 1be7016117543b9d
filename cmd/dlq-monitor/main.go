// Command dlq-monitor runs the DLQ Monitor (C10) as a standalone process:
// it shares the engine's Redis-backed State Store and cluster pool name so
// exactly one instance across the fleet performs each scan, and exposes the
// admin resume/cancel/inspect routes without running the rest of the
// engine's HTTP surface. Grounded on the same Redis-connect sequence as
// cmd/engine-service, split out because the scan loop and the segment
// execution path scale independently.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalclient "go.temporal.io/sdk/client"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"

	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/config"
	"github.com/sagaworks/saga-engine/internal/dlq"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/httpapi"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/queue/httpqueue"
	"github.com/sagaworks/saga-engine/internal/queue/temporalqueue"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := telemetry.NewClueLogger()

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	docs, err := rmap.Join(ctx, cfg.PoolName+":checkpoints", rdb)
	if err != nil {
		return fmt.Errorf("join checkpoint map: %w", err)
	}
	st := store.NewRedisStore(rdb, docs, store.WithLogger(logger))

	bus := eventbus.NewBus()
	if cfg.EnablePulseEventBus {
		transport, err := eventbus.NewPulseTransport(ctx, rdb, logger, cfg.PulseEventStreamMaxLen)
		if err != nil {
			return fmt.Errorf("open pulse event transport: %w", err)
		}
		if _, err := bus.Register(eventbus.SubscriberFunc(transport.Publish)); err != nil {
			return fmt.Errorf("register pulse transport: %w", err)
		}
	}

	var node *pool.Node
	if cfg.PoolName != "" {
		node, err = pool.AddNode(ctx, cfg.PoolName, rdb)
		if err != nil {
			return fmt.Errorf("join node pool: %w", err)
		}
	}

	// This process has no Workflow Machine of its own, so recovery can only
	// hand a stalled execution back to a worker by re-enqueuing a
	// continuation job rather than running the segment in-process.
	checkpoints := checkpoint.New(st, checkpoint.WithLogger(logger))
	var jobQueue queue.Backend
	switch cfg.QueueBackend {
	case "temporal":
		temporalClient, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalHostPort})
		if err != nil {
			return fmt.Errorf("dial temporal client: %w", err)
		}
		defer temporalClient.Close()
		jobQueue = temporalqueue.New(temporalClient, cfg.TemporalTaskQueue, cfg.TemporalWorkflowName)
	default:
		if cfg.WorkerURL != "" {
			jobQueue = httpqueue.New(cfg.WorkerURL, []byte(cfg.WebhookSigningSecret), httpqueue.WithLogger(logger))
		}
	}

	dlqOpts := []dlq.Option{
		dlq.WithScanInterval(cfg.DLQScanInterval),
		dlq.WithInactivityThreshold(cfg.DLQInactivityThreshold),
		dlq.WithLogger(logger),
	}
	if jobQueue != nil {
		dlqOpts = append(dlqOpts, dlq.WithRecovery(checkpoints, queue.EnqueueResumer{Backend: jobQueue}, cfg.MaxRecoveryAttempts))
	} else {
		logger.Warn(ctx, "dlq-monitor: WORKER_URL unset under the http queue backend; automatic recovery disabled, stalled executions move straight to the DLQ")
	}
	monitor := dlq.New(st, bus, node, dlqOpts...)
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start dlq monitor: %w", err)
	}
	defer monitor.Stop()

	router := httpapi.NewDLQRouter(httpapi.Deps{
		Store: st,
		DLQ:   monitor,
		Bus:   bus,
		Log:   logger,
	})

	server := &http.Server{Addr: cfg.DLQHTTPAddr, Handler: router}
	serverErrs := make(chan error, 1)
	go func() {
		logger.Info(ctx, "dlq-monitor listening", "addr", cfg.DLQHTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrs:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
