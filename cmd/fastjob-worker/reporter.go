package main

import (
	"context"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

// reporter posts instance status and heartbeats back to the owning
// control-plane server over the same gRPC binding transport.GRPCClient
// uses for the opposite direction, calling into the server's
// ServerInbound service rather than the WorkerInbound one.
type reporter struct {
	serverAddr string
	client     *transport.GRPCClient
}

func newReporter(serverAddr string, timeout time.Duration) *reporter {
	return &reporter{serverAddr: serverAddr, client: transport.NewGRPCClient(timeout)}
}

// Close releases the cached connection to the control plane.
func (r *reporter) Close() {
	r.client.Close()
}

func (r *reporter) call(ctx context.Context, method string, req, resp interface{}) error {
	return r.client.Call(ctx, r.serverAddr, transport.ServerServiceName, method, req, resp)
}

// reportStatus sends one ReportInstanceStatus call for an instance this
// worker is executing or has finished executing (spec.md §4.8).
func (r *reporter) reportStatus(ctx context.Context, sourceAddr string, instanceID uint64, status store.InstanceStatus, result string) error {
	req := &transport.ReportInstanceStatusRequest{
		Envelope:      transport.NewEnvelope(),
		InstanceID:    instanceID,
		SourceAddress: sourceAddr,
		ReportTimeMS:  time.Now().UnixMilli(),
		Status:        status,
		Result:        result,
	}
	var resp transport.ReportInstanceStatusResponse
	return r.call(ctx, "ReportInstanceStatus", req, &resp)
}

// heartbeat sends one HeartBeat call advertising this worker's identity,
// resources, and currently-deployed containers (spec.md §4.3).
func (r *reporter) heartbeat(ctx context.Context, req *transport.HeartBeatRequest) error {
	var resp transport.HeartBeatResponse
	return r.call(ctx, "HeartBeat", req, &resp)
}

// register announces this worker process to the server on startup.
func (r *reporter) register(ctx context.Context, req *transport.RegisterWorkerManagerRequest) error {
	var resp transport.RegisterWorkerManagerResponse
	return r.call(ctx, "RegisterWorkerManager", req, &resp)
}
