// Package remote implements a RemoteResolver over a plain gRPC connection to
// a tool gateway, the same role registry/registry.go's gRPC server plays for
// the teacher's own tool registry. Request and response bodies use
// google.golang.org/protobuf's structpb.Struct so arbitrary tool parameter
// and output maps cross the wire as genuine protobuf messages without
// requiring a service-specific generated client; RPCs are issued directly
// through grpc.ClientConn.Invoke.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	methodListTools = "/saga.toolgateway.v1.ToolGateway/ListTools"
	methodInvoke    = "/saga.toolgateway.v1.ToolGateway/InvokeTool"
)

// Resolver reaches tools hosted behind a remote gRPC tool gateway.
type Resolver struct {
	conn *grpc.ClientConn

	mu         sync.Mutex
	cached     map[string]bool
	cachedAt   time.Time
	cacheTTL   time.Duration
}

// New constructs a Resolver bound to an already-dialed connection (built with
// grpc.NewClient by the caller, who owns its lifecycle).
func New(conn *grpc.ClientConn) *Resolver {
	return &Resolver{conn: conn, cacheTTL: 30 * time.Second}
}

// Has reports whether the remote gateway currently advertises toolName. The
// advertised set is cached for cacheTTL so the hot Execute path does not
// issue a ListTools RPC per call.
func (r *Resolver) Has(ctx context.Context, toolName string) bool {
	r.mu.Lock()
	stale := time.Since(r.cachedAt) > r.cacheTTL || r.cached == nil
	r.mu.Unlock()

	if stale {
		if err := r.refresh(ctx); err != nil {
			return false
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cached[toolName]
}

func (r *Resolver) refresh(ctx context.Context) error {
	req := &structpb.Struct{}
	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, methodListTools, req, resp); err != nil {
		return fmt.Errorf("remote: list tools: %w", err)
	}

	names := make(map[string]bool)
	if toolsVal, ok := resp.Fields["tools"]; ok {
		for _, v := range toolsVal.GetListValue().GetValues() {
			names[v.GetStringValue()] = true
		}
	}

	r.mu.Lock()
	r.cached = names
	r.cachedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// Invoke calls toolName on the remote gateway with parameters and returns its
// output map.
func (r *Resolver) Invoke(ctx context.Context, toolName string, parameters map[string]any) (map[string]any, error) {
	paramStruct, err := structpb.NewStruct(parameters)
	if err != nil {
		return nil, fmt.Errorf("remote: encode parameters for %s: %w", toolName, err)
	}
	req, err := structpb.NewStruct(map[string]any{
		"tool_name":  toolName,
		"parameters": paramStruct.AsMap(),
	})
	if err != nil {
		return nil, fmt.Errorf("remote: encode request for %s: %w", toolName, err)
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, methodInvoke, req, resp); err != nil {
		return nil, fmt.Errorf("remote: invoke %s: %w", toolName, err)
	}
	return resp.AsMap(), nil
}
