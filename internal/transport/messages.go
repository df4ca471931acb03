// Package transport defines the wire contracts between server nodes and
// worker processes (spec.md §6) and a gRPC binding for them (grpc.go).
// Struct field tags stay JSON-shaped because the binding carries these
// payloads over a JSON gRPC codec rather than protobuf-generated types;
// business logic in registry/dispatch/reconcile depends only on the
// WorkerClient/ServerInbound interfaces below, never on grpc.go directly.
package transport

import (
	"time"

	"github.com/google/uuid"

	"github.com/eliasyaoyc/fastjob/internal/store"
)

// Envelope fields every request/response carries.
type Envelope struct {
	RequestID   string `json:"request_id"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// NewEnvelope stamps a fresh request ID and timestamp, for callers building
// an outbound request (spec.md §6 wire protocol).
func NewEnvelope() Envelope {
	return Envelope{RequestID: uuid.NewString(), TimestampMS: time.Now().UnixMilli()}
}

// StatusCode mirrors the RPC response envelope's "code (200=ok)" contract.
type StatusCode int

const (
	CodeOK                StatusCode = 200
	CodeNotFound          StatusCode = 404
	CodePermissionDenied  StatusCode = 403
	CodeSchedulerBusy     StatusCode = 429
	CodeServiceUnavailable StatusCode = 503
	CodeInternal          StatusCode = 500
)

// Result is the common response envelope.
type Result struct {
	Envelope
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// RegisterWorkerManagerRequest is sent by a worker process on startup.
type RegisterWorkerManagerRequest struct {
	Envelope
	ID        string                 `json:"id"`
	LocalAddr string                 `json:"local_addr"`
	Scope     string                 `json:"scope"`
	Config    map[string]string      `json:"config,omitempty"`
}

type RegisterWorkerManagerResponse struct {
	Result
}

// HeartBeatRequest is spec.md §6's HeartBeat call.
type HeartBeatRequest struct {
	Envelope
	AppID            uint64               `json:"app_id"`
	AppName          string               `json:"app_name"`
	WorkerAddress    string               `json:"worker_address"`
	HeartbeatTimeMS  int64                `json:"heartbeat_time_ms"`
	Tag              string               `json:"tag,omitempty"`
	Indicators       WorkerIndicators     `json:"indicators"`
	DeployContainers []DeployContainerInfo `json:"deploy_container_info,omitempty"`
}

// WorkerIndicators is the resource snapshot reported on every heartbeat.
type WorkerIndicators struct {
	JVMUsed     float64 `json:"jvm_used"`
	JVMMax      float64 `json:"jvm_max"`
	CPULoad     float64 `json:"cpu_load"`
	CPUProcessors float64 `json:"cpu_processors"`
	DiskUsed    float64 `json:"disk_used"`
	DiskTotal   float64 `json:"disk_total"`
}

// DeployContainerInfo describes one container reported alongside a heartbeat.
type DeployContainerInfo struct {
	ContainerID string `json:"container_id"`
	Status      string `json:"status"`
}

type HeartBeatResponse struct {
	Result
}

// ReportInstanceStatusRequest is spec.md §6's ReportInstanceStatus call.
type ReportInstanceStatusRequest struct {
	Envelope
	InstanceID      uint64                `json:"instance_id"`
	WfInstanceID    *uint64               `json:"wf_instance_id,omitempty"`
	SourceAddress   string                `json:"source_address"`
	ReportTimeMS    int64                 `json:"report_time_ms"`
	Status          store.InstanceStatus  `json:"status"`
	Result          string                `json:"result,omitempty"`
	WorkflowContext map[string]string     `json:"workflow_context,omitempty"`
}

type ReportInstanceStatusResponse struct {
	Result
}

// QueryExecutorClusterRequest is spec.md §6's QueryExecutorCluster call.
type QueryExecutorClusterRequest struct {
	Envelope
	AppID uint64 `json:"app_id"`
	JobID uint64 `json:"job_id"`
}

type QueryExecutorClusterResponse struct {
	Result
	Addresses []string `json:"addresses"`
}

// DeployContainerRequest is spec.md §6's DeployContainer call.
type DeployContainerRequest struct {
	Envelope
	ContainerID string `json:"container_id"`
}

type DeployContainerResponse struct {
	Result
}

// PingRequest/PingResponse implement spec.md §6's liveness probe, used by C4.
type PingRequest struct {
	Envelope
}

type PingResponse struct {
	Result
}

// ScheduleJobRequest is the server→worker call dispatched by C7.
type ScheduleJobRequest struct {
	Envelope
	JobID             uint64              `json:"job_id"`
	InstanceID        uint64              `json:"instance_id"`
	JobParams         string              `json:"job_params,omitempty"`
	InstanceTimeLimit int64               `json:"instance_time_limit"`
	TaskRetryNum      int                 `json:"task_retry_num"`
	ProcessorType     store.ProcessorType `json:"processor_type"`
	ProcessorInfo     string              `json:"processor_info,omitempty"`
	ExecuteType       store.ExecuteType   `json:"execute_type"`
}

type ScheduleJobResponse struct {
	Result
}
