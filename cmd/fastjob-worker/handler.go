package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

// handler implements transport.WorkerInbound: it accepts dispatched job
// instances, executes them, and reports their outcome back to the server
// that dispatched them (spec.md §6 worker side).
//
// This is a reference simulator, not a production executor: ProcessorShell
// runs JobParams as a shell command; ProcessorJava has no real JVM to run
// against, so it simulates a short-lived successful execution instead.
type handler struct {
	selfAddr string
	rep      *reporter
	log      *zap.SugaredLogger
}

func newHandler(selfAddr string, rep *reporter, log *zap.SugaredLogger) *handler {
	return &handler{selfAddr: selfAddr, rep: rep, log: log}
}

var _ transport.WorkerInbound = (*handler)(nil)

// ScheduleJob acknowledges the dispatch immediately and runs the job in
// the background, reporting Running then a terminal status (spec.md §4.7
// describes the server side of this call; this is the worker side).
func (h *handler) ScheduleJob(ctx context.Context, req *transport.ScheduleJobRequest) (*transport.ScheduleJobResponse, error) {
	go h.execute(*req)
	return &transport.ScheduleJobResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

func (h *handler) execute(req transport.ScheduleJobRequest) {
	ctx := context.Background()
	if err := h.rep.reportStatus(ctx, h.selfAddr, req.InstanceID, store.Running, ""); err != nil {
		h.log.Warnw("report running failed", "instance_id", req.InstanceID, "error", err)
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if req.InstanceTimeLimit > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(req.InstanceTimeLimit)*time.Millisecond)
		defer cancel()
	}

	status, result := h.run(execCtx, req)

	if err := h.rep.reportStatus(ctx, h.selfAddr, req.InstanceID, status, result); err != nil {
		h.log.Warnw("report terminal status failed", "instance_id", req.InstanceID, "status", status, "error", err)
	}
}

func (h *handler) run(ctx context.Context, req transport.ScheduleJobRequest) (store.InstanceStatus, string) {
	switch req.ProcessorType {
	case store.ProcessorShell:
		return h.runShell(ctx, req)
	default:
		return h.runSimulatedJava(ctx, req)
	}
}

func (h *handler) runShell(ctx context.Context, req transport.ScheduleJobRequest) (store.InstanceStatus, string) {
	if req.JobParams == "" {
		return store.Failed, "empty job_params for shell processor"
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", req.JobParams)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return store.Failed, fmt.Sprintf("%v: %s", err, truncate(out, 4096))
	}
	return store.Success, truncate(out, 4096)
}

// runSimulatedJava stands in for a real JVM processor invocation, which
// this reference worker does not have the runtime to perform.
func (h *handler) runSimulatedJava(ctx context.Context, req transport.ScheduleJobRequest) (store.InstanceStatus, string) {
	select {
	case <-time.After(200 * time.Millisecond):
		return store.Success, "simulated java processor ran " + req.ProcessorInfo
	case <-ctx.Done():
		return store.Failed, "instance time limit exceeded"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}

// Ping answers a peer's liveness probe.
func (h *handler) Ping(ctx context.Context, req *transport.PingRequest) (*transport.PingResponse, error) {
	return &transport.PingResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

// DeployContainer is a stub ack; this reference worker runs jobs directly
// rather than through a container orchestrator.
func (h *handler) DeployContainer(ctx context.Context, req *transport.DeployContainerRequest) (*transport.DeployContainerResponse, error) {
	return &transport.DeployContainerResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}
