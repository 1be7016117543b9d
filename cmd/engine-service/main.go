// Command engine-service runs the saga execution engine's HTTP API: the
// State Store, Tool Executor, Workflow Machine, Checkpoint Manager, Saga
// Compensator, Failover Policy Engine, Replanner, and DLQ Monitor, all
// wired to a shared Redis-backed store and event bus. Grounded on the
// Redis-connect/rmap-join/pool-node-join sequence in
// registry/cmd/registry/main.go, generalized from a single registry
// component to the full saga engine component graph.
//
// # Configuration
//
// Environment variables, all optional with defaults (see internal/config):
//
//	ENGINE_HTTP_ADDR, REDIS_URL, REDIS_PASSWORD, MONGO_URI, MONGO_DATABASE,
//	SEGMENT_TIMEOUT, CHECKPOINT_THRESHOLD, SEGMENT_SAFETY_MARGIN,
//	DLQ_SCAN_INTERVAL, DLQ_INACTIVITY_THRESHOLD, TOOL_GATEWAY_ADDR,
//	REPLANNER_MODEL_PROVIDER, REPLANNER_MODEL_ID, FAILOVER_POLICY_PATH,
//	WEBHOOK_SIGNING_SECRET, QUEUE_BACKEND, WORKER_URL, TEMPORAL_HOST_PORT,
//	TEMPORAL_TASK_QUEUE, TEMPORAL_WORKFLOW_NAME, POOL_NAME.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sagaworks/saga-engine/features/model/anthropic"
	"github.com/sagaworks/saga-engine/features/model/bedrock"
	"github.com/sagaworks/saga-engine/features/model/openai"
	"github.com/sagaworks/saga-engine/internal/checkpoint"
	"github.com/sagaworks/saga-engine/internal/compensator"
	"github.com/sagaworks/saga-engine/internal/config"
	"github.com/sagaworks/saga-engine/internal/dlq"
	"github.com/sagaworks/saga-engine/internal/eventbus"
	"github.com/sagaworks/saga-engine/internal/failover"
	"github.com/sagaworks/saga-engine/internal/httpapi"
	"github.com/sagaworks/saga-engine/internal/llmbridge"
	"github.com/sagaworks/saga-engine/internal/outbox"
	"github.com/sagaworks/saga-engine/internal/queue"
	"github.com/sagaworks/saga-engine/internal/queue/httpqueue"
	"github.com/sagaworks/saga-engine/internal/queue/temporalqueue"
	"github.com/sagaworks/saga-engine/internal/replanner"
	"github.com/sagaworks/saga-engine/internal/store"
	"github.com/sagaworks/saga-engine/internal/telemetry"
	"github.com/sagaworks/saga-engine/internal/toolexec"
	"github.com/sagaworks/saga-engine/internal/toolexec/remote"
	"github.com/sagaworks/saga-engine/internal/trace"
	"github.com/sagaworks/saga-engine/internal/workflow"
	llm "github.com/sagaworks/saga-engine/runtime/agent/model"
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
		if _, err := transport.Subscribe(ctx, cfg.PoolName+":engine-service", bus); err != nil {
			return fmt.Errorf("subscribe to pulse events: %w", err)
		}
	}

	var mirror outbox.Mirror
	if cfg.MongoURI != "" {
		mongoClient, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		defer mongoClient.Disconnect(context.Background())
		m, err := outbox.NewMongoMirror(ctx, outbox.Options{Client: mongoClient, Database: cfg.MongoDatabase})
		if err != nil {
			return fmt.Errorf("open checkpoint mirror: %w", err)
		}
		mirror = m
	}

	reg := toolexec.NewLocalRegistry()
	executorOpts := []toolexec.Option{toolexec.WithLogger(logger)}
	if cfg.ToolGatewayAddr != "" {
		conn, err := grpc.NewClient(cfg.ToolGatewayAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial tool gateway: %w", err)
		}
		defer conn.Close()
		executorOpts = append(executorOpts, toolexec.WithRemoteResolver(remote.New(conn)))
	}
	executor := toolexec.New(reg, executorOpts...)

	checkpointOpts := []checkpoint.Option{checkpoint.WithTraceIDFunc(trace.TraceID), checkpoint.WithLogger(logger)}
	if mirror != nil {
		checkpointOpts = append(checkpointOpts, checkpoint.WithMirror(mirror))
	}
	checkpoints := checkpoint.New(st, checkpointOpts...)

	policyYAML, ok, err := config.LoadFailoverPolicyYAML(cfg)
	if err != nil {
		return fmt.Errorf("load failover policy: %w", err)
	}
	if !ok {
		policyYAML = []byte(failover.DefaultPolicyYAML)
	}
	foEngine, err := failover.LoadYAML(policyYAML)
	if err != nil {
		return fmt.Errorf("parse failover policy: %w", err)
	}

	comp := compensator.New(st, executor, bus, compensator.WithLogger(logger), withMirrorIfPresent(mirror))

	var temporalClient temporalclient.Client
	if cfg.QueueBackend == "temporal" || cfg.ModelProvider == "bedrock" {
		tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return fmt.Errorf("build temporal tracing interceptor: %w", err)
		}
		temporalClient, err = temporalclient.Dial(temporalclient.Options{
			HostPort:     cfg.TemporalHostPort,
			Interceptors: []interceptor.ClientInterceptor{tracingInterceptor},
		})
		if err != nil {
			return fmt.Errorf("dial temporal: %w", err)
		}
		defer temporalClient.Close()
	}

	modelClient, err := buildModelClient(ctx, cfg, temporalClient)
	if err != nil {
		return fmt.Errorf("build replanner model client: %w", err)
	}
	synth, err := replanner.NewModelSynthesizer(modelClient, cfg.ModelID)
	if err != nil {
		return fmt.Errorf("build plan synthesizer: %w", err)
	}

	var jobQueue queue.Backend
	switch cfg.QueueBackend {
	case "temporal":
		jobQueue = temporalqueue.New(temporalClient, cfg.TemporalTaskQueue, cfg.TemporalWorkflowName)
	default:
		workerURL := cfg.WorkerURL
		if workerURL == "" {
			workerURL = "http://localhost" + cfg.HTTPAddr + "/internal/segment"
		}
		jobQueue = httpqueue.New(workerURL, []byte(cfg.WebhookSigningSecret), httpqueue.WithLogger(logger))
	}

	repl := replanner.New(st, synth, bus, jobQueue, replanner.WithLogger(logger))

	machine := workflow.New(st, executor, checkpoints, foEngine, comp, repl, bus, jobQueue, workflow.WithLogger(logger),
		workflow.WithTimings(cfg.SegmentTimeout, cfg.CheckpointThreshold, cfg.SafetyMargin))

	var node *pool.Node
	if cfg.PoolName != "" {
		node, err = pool.AddNode(ctx, cfg.PoolName, rdb)
		if err != nil {
			return fmt.Errorf("join node pool: %w", err)
		}
	}
	monitor := dlq.New(st, bus, node,
		dlq.WithScanInterval(cfg.DLQScanInterval),
		dlq.WithInactivityThreshold(cfg.DLQInactivityThreshold),
		dlq.WithRecovery(checkpoints, machineResumer{machine: machine}, cfg.MaxRecoveryAttempts),
		dlq.WithLogger(logger))
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start dlq monitor: %w", err)
	}
	defer monitor.Stop()

	router := httpapi.NewRouter(httpapi.Deps{
		Store:             st,
		Machine:           machine,
		DLQ:               monitor,
		Bus:               bus,
		JobQueue:          jobQueue,
		Log:               logger,
		InternalSystemKey: cfg.WebhookSigningSecret,
		ServiceToken:      cfg.WebhookSigningSecret,
		WebhookSecret:     []byte(cfg.WebhookSigningSecret),
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	serverErrs := make(chan error, 1)
	go func() {
		logger.Info(ctx, "engine-service listening", "addr", cfg.HTTPAddr)
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

// buildModelClient selects the Replanner's llm.Client per cfg.ModelProvider.
// Bedrock's adapter requires an already-connected Temporal client to source
// its conversation ledger (NewTemporalLedgerSource), so it is only available
// once one was dialed above.
func buildModelClient(ctx context.Context, cfg config.Config, temporalClient temporalclient.Client) (llm.Client, error) {
	switch cfg.ModelProvider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		return anthropic.NewFromAPIKey(apiKey, cfg.ModelID)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		c, err := openai.NewFromAPIKey(apiKey, cfg.ModelID)
		if err != nil {
			return nil, err
		}
		return llmbridge.NewOpenAIBridge(c), nil
	case "bedrock":
		if temporalClient == nil {
			return nil, errors.New("bedrock model provider requires a Temporal client for its ledger source")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		ledger := bedrock.NewTemporalLedgerSource(temporalClient)
		return bedrock.New(runtime, bedrock.Options{DefaultModel: cfg.ModelID}, ledger)
	default:
		return nil, fmt.Errorf("unknown REPLANNER_MODEL_PROVIDER %q", cfg.ModelProvider)
	}
}

func withMirrorIfPresent(m outbox.Mirror) compensator.Option {
	if m == nil {
		return func(*compensator.Compensator) {}
	}
	return compensator.WithMirror(m)
}

// machineResumer adapts *workflow.Machine to checkpoint.Resumer so the DLQ
// Monitor can drive a stalled execution's next segment directly, in-process,
// instead of going back through the job queue.
type machineResumer struct {
	machine *workflow.Machine
}

func (r machineResumer) RunSegment(ctx context.Context, executionID string, segmentNumber int) (any, error) {
	return r.machine.RunSegment(ctx, executionID, segmentNumber)
}
