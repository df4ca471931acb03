package transport

import "context"

// WorkerClient is every call a server node makes against a worker process.
type WorkerClient interface {
	ScheduleJob(ctx context.Context, addr string, req *ScheduleJobRequest) (*ScheduleJobResponse, error)
	Ping(ctx context.Context, addr string) (*PingResponse, error)
	DeployContainer(ctx context.Context, addr string, req *DeployContainerRequest) (*DeployContainerResponse, error)
}

// ServerInbound is every call a worker (or peer server) makes into this
// node: registration, heartbeats, status reports, and cluster queries.
// The dispatcher/reconciler/registry implement this to be wired behind
// whichever concrete transport binding is in use.
type ServerInbound interface {
	RegisterWorkerManager(ctx context.Context, req *RegisterWorkerManagerRequest) (*RegisterWorkerManagerResponse, error)
	HeartBeat(ctx context.Context, req *HeartBeatRequest) (*HeartBeatResponse, error)
	ReportInstanceStatus(ctx context.Context, req *ReportInstanceStatusRequest) (*ReportInstanceStatusResponse, error)
	QueryExecutorCluster(ctx context.Context, req *QueryExecutorClusterRequest) (*QueryExecutorClusterResponse, error)
	DeployContainer(ctx context.Context, req *DeployContainerRequest) (*DeployContainerResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

// WorkerInbound is every call a worker process answers on its own gRPC
// server: the same three calls as WorkerClient, minus the address (the
// worker is answering for itself).
type WorkerInbound interface {
	ScheduleJob(ctx context.Context, req *ScheduleJobRequest) (*ScheduleJobResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
	DeployContainer(ctx context.Context, req *DeployContainerRequest) (*DeployContainerResponse, error)
}
