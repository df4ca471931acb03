// Package apiserver implements transport.ServerInbound, translating wire
// requests into calls against the registry, store gateway, and reconciler
// (spec.md §6 wire protocol).
package apiserver

import (
	"context"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/reconcile"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

// Server implements transport.ServerInbound.
type Server struct {
	gateway    store.Gateway
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	clock      clock.Clock
}

// New builds a Server. reconciler may be nil in contexts that only need
// worker-facing registration/heartbeat handling (e.g. tests).
func New(gw store.Gateway, reg *registry.Registry, rec *reconcile.Reconciler, c clock.Clock) *Server {
	return &Server{gateway: gw, registry: reg, reconciler: rec, clock: c}
}

var _ transport.ServerInbound = (*Server)(nil)

// RegisterWorkerManager acknowledges a worker process's startup announcement.
// Workers establish identity via their first HeartBeat; this call exists so
// a worker can fail fast if the server is unreachable at boot (spec.md §6).
func (s *Server) RegisterWorkerManager(ctx context.Context, req *transport.RegisterWorkerManagerRequest) (*transport.RegisterWorkerManagerResponse, error) {
	logger.ComponentLogger("apiserver").Infow("worker registered", "id", req.ID, "addr", req.LocalAddr, "scope", req.Scope)
	return &transport.RegisterWorkerManagerResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

// HeartBeat ingests one worker resource report into the owning app's cluster.
func (s *Server) HeartBeat(ctx context.Context, req *transport.HeartBeatRequest) (*transport.HeartBeatResponse, error) {
	containers := make([]registry.DeployInfo, 0, len(req.DeployContainers))
	for _, c := range req.DeployContainers {
		containers = append(containers, registry.DeployInfo{ContainerID: c.ContainerID, Status: c.Status})
	}

	s.registry.Cluster(req.AppID).OnHeartbeat(registry.Heartbeat{
		Address:         req.WorkerAddress,
		Tag:             req.Tag,
		HeartbeatTimeMS: req.HeartbeatTimeMS,
		Indicators: registry.Indicators{
			JVMUsedGB:   req.Indicators.JVMUsed,
			JVMMaxGB:    req.Indicators.JVMMax,
			CPULoad:     req.Indicators.CPULoad,
			CPUCores:    req.Indicators.CPUProcessors,
			DiskUsedGB:  req.Indicators.DiskUsed,
			DiskTotalGB: req.Indicators.DiskTotal,
		},
		Containers: containers,
	})

	return &transport.HeartBeatResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

// ReportInstanceStatus delegates to the status reconciler.
func (s *Server) ReportInstanceStatus(ctx context.Context, req *transport.ReportInstanceStatusRequest) (*transport.ReportInstanceStatusResponse, error) {
	if s.reconciler == nil {
		return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
	}
	return s.reconciler.OnReport(ctx, req)
}

// QueryExecutorCluster answers which workers are eligible to run req.JobID,
// running the same designated/liveness/resource selection pipeline dispatch
// uses (spec.md §4.3, §6). Callers may only query jobs belonging to the app
// they present, enforced by a PermissionDenied result rather than a Go error.
func (s *Server) QueryExecutorCluster(ctx context.Context, req *transport.QueryExecutorClusterRequest) (*transport.QueryExecutorClusterResponse, error) {
	job, err := s.gateway.FindJobInfoByID(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return &transport.QueryExecutorClusterResponse{Result: transport.Result{Code: transport.CodeNotFound}}, nil
		}
		return nil, err
	}
	if job.AppID != req.AppID {
		return &transport.QueryExecutorClusterResponse{Result: transport.Result{Code: transport.CodePermissionDenied}}, nil
	}

	workers := s.registry.Cluster(req.AppID).PickWorkers(job, s.clock.NowMS(), s.registry.WorkerTimeout())
	addrs := make([]string, 0, len(workers))
	for _, w := range workers {
		addrs = append(addrs, w.Address)
	}
	return &transport.QueryExecutorClusterResponse{Result: transport.Result{Code: transport.CodeOK}, Addresses: addrs}, nil
}

// DeployContainer is a stub inbound acknowledgement; actual container
// orchestration lives outside this control plane (spec.md §6 marks the
// worker side of this call as the one doing real work).
func (s *Server) DeployContainer(ctx context.Context, req *transport.DeployContainerRequest) (*transport.DeployContainerResponse, error) {
	return &transport.DeployContainerResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

// Ping answers this server's own liveness probe, used by peers running C4's
// election algorithm against this node.
func (s *Server) Ping(ctx context.Context, req *transport.PingRequest) (*transport.PingResponse, error) {
	return &transport.PingResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}
