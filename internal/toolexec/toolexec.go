// Package toolexec implements the Tool Executor: it resolves a tool name to
// either a locally registered handler or a remote gRPC gateway, invokes it
// with a cancellable timeout, validates the returned payload against the
// tool's declared JSON Schema, and retries technical failures with backoff.
// Grounded on runtime/toolregistry/executor in the teacher, generalized from
// registry-gateway/Pulse-stream tool calls to a pluggable local/remote
// resolution chain.
package toolexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/time/rate"

	"github.com/sagaworks/saga-engine/internal/retry"
	"github.com/sagaworks/saga-engine/internal/telemetry"
)

// Result is the outcome of one tool invocation.
type Result struct {
	Output   map[string]any
	Attempts int
	LatencyMS int64
}

// ErrorKind classifies a tool failure for the Failover Policy Engine.
type ErrorKind string

const (
	KindTechnical    ErrorKind = "TECHNICAL_ERROR"
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindBusiness     ErrorKind = "BUSINESS_ERROR"
	KindTimeout      ErrorKind = "TIMEOUT"
	KindNotFound     ErrorKind = "TOOL_NOT_FOUND"
)

// Error carries a classified tool failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Handler invokes one tool locally, given its parameters, and returns the raw
// output before schema validation.
type Handler func(ctx context.Context, parameters map[string]any) (map[string]any, error)

// Registry resolves a tool name to a locally registered Handler.
type Registry interface {
	Lookup(name string) (Handler, bool)
	// OutputSchema returns the compiled output schema for name, if one was
	// registered, so the executor can reject malformed tool output before it
	// reaches the plan step's downstream consumers.
	OutputSchema(name string) (*jsonschema.Schema, bool)
}

// RemoteResolver reaches a tool hosted on another process, typically through
// the gRPC gateway in internal/toolexec/remote.
type RemoteResolver interface {
	Invoke(ctx context.Context, toolName string, parameters map[string]any) (map[string]any, error)
	// Has reports whether the remote gateway advertises toolName, without
	// performing the call; used to decide resolution order.
	Has(ctx context.Context, toolName string) bool
}

// Executor is the Tool Executor (C4): it resolves, invokes, validates, and
// retries tool calls on behalf of the Workflow Machine.
type Executor struct {
	local    Registry
	remote   RemoteResolver
	retryCfg retry.Config
	log      telemetry.Logger
	tracer   telemetry.Tracer
	limiter  *rate.Limiter
}

// Option configures an Executor.
type Option func(*Executor)

// WithRemoteResolver installs a RemoteResolver consulted before the local
// registry, so a newly connected remote tool server can shadow a locally
// registered tool of the same name.
func WithRemoteResolver(r RemoteResolver) Option {
	return func(e *Executor) { e.remote = r }
}

// WithRetryConfig overrides the technical-error retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(e *Executor) { e.retryCfg = cfg }
}

// WithLogger sets the executor's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTracer sets the executor's tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithRateLimit caps outbound tool calls to rps with the given burst, mainly
// to keep a single runaway saga from saturating a shared remote gateway.
// Zero rps leaves calls unlimited, the default.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Executor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New constructs an Executor backed by a local Registry.
func New(local Registry, opts ...Option) *Executor {
	e := &Executor{
		local:    local,
		retryCfg: retry.DefaultToolConfig(),
		log:      telemetry.NewNoopLogger(),
		tracer:   telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute resolves toolName (remote resolver first, then the local
// registry), runs it against parameters under timeout, validates its output
// against the tool's declared schema if one is registered, and retries
// technical failures up to the configured attempt budget.
func (e *Executor) Execute(ctx context.Context, toolName string, parameters map[string]any, timeout time.Duration) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "toolexec.Execute")
	defer span.End()

	handler, schema, err := e.resolve(ctx, toolName)
	if err != nil {
		return nil, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindTimeout, Message: "rate limit wait canceled", Cause: err}
		}
	}

	start := time.Now()
	attempts := 0
	var output map[string]any

	retryErr := retry.Do(ctx, e.retryCfg, isRetryableToolError, func(ctx context.Context, attempt int) error {
		attempts = attempt
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		out, callErr := handler(callCtx, parameters)
		if callErr != nil {
			if callCtx.Err() != nil {
				return &Error{Kind: KindTimeout, Message: "tool call deadline exceeded", Cause: callCtx.Err()}
			}
			return classify(callErr)
		}
		if schema != nil {
			if err := schema.Validate(toAny(out)); err != nil {
				return &Error{Kind: KindValidation, Message: "tool output failed schema validation", Cause: err}
			}
		}
		output = out
		return nil
	})

	if retryErr != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(retryErr, &exhausted) {
			e.log.Warn(ctx, "toolexec: retries exhausted", "tool", toolName, "attempts", exhausted.Attempts)
			return nil, exhausted.LastError
		}
		return nil, retryErr
	}

	return &Result{Output: output, Attempts: attempts, LatencyMS: time.Since(start).Milliseconds()}, nil
}

// resolve is re-evaluated on every Execute call: remote tool servers are
// checked first, so a server that connects after startup takes priority
// over a same-named local registration from that point on.
func (e *Executor) resolve(ctx context.Context, toolName string) (Handler, *jsonschema.Schema, error) {
	if e.remote != nil && e.remote.Has(ctx, toolName) {
		remote := e.remote
		return func(ctx context.Context, parameters map[string]any) (map[string]any, error) {
			return remote.Invoke(ctx, toolName, parameters)
		}, nil, nil
	}
	if e.local != nil {
		if h, ok := e.local.Lookup(toolName); ok {
			schema, _ := e.local.OutputSchema(toolName)
			return h, schema, nil
		}
	}
	return nil, nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("tool %q is not registered locally or remotely", toolName)}
}

func isRetryableToolError(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindTechnical || te.Kind == KindTimeout
	}
	return true
}

func classify(err error) error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindTechnical, Message: "tool call failed", Cause: err}
}

func toAny(m map[string]any) any { return m }
