package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeServerInbound struct{}

func (fakeServerInbound) RegisterWorkerManager(ctx context.Context, req *RegisterWorkerManagerRequest) (*RegisterWorkerManagerResponse, error) {
	return &RegisterWorkerManagerResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeServerInbound) HeartBeat(ctx context.Context, req *HeartBeatRequest) (*HeartBeatResponse, error) {
	return &HeartBeatResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeServerInbound) ReportInstanceStatus(ctx context.Context, req *ReportInstanceStatusRequest) (*ReportInstanceStatusResponse, error) {
	return &ReportInstanceStatusResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeServerInbound) QueryExecutorCluster(ctx context.Context, req *QueryExecutorClusterRequest) (*QueryExecutorClusterResponse, error) {
	return &QueryExecutorClusterResponse{Result: Result{Code: CodeOK}, Addresses: []string{"w1"}}, nil
}
func (fakeServerInbound) DeployContainer(ctx context.Context, req *DeployContainerRequest) (*DeployContainerResponse, error) {
	return &DeployContainerResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeServerInbound) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{Result: Result{Code: CodeOK}}, nil
}

type fakeWorkerInbound struct{}

func (fakeWorkerInbound) ScheduleJob(ctx context.Context, req *ScheduleJobRequest) (*ScheduleJobResponse, error) {
	return &ScheduleJobResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeWorkerInbound) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	return &PingResponse{Result: Result{Code: CodeOK}}, nil
}
func (fakeWorkerInbound) DeployContainer(ctx context.Context, req *DeployContainerRequest) (*DeployContainerResponse, error) {
	return &DeployContainerResponse{Result: Result{Code: CodeOK}}, nil
}

func startGRPC(t *testing.T, srv *grpc.Server) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGRPCClientPingRoundTrip(t *testing.T) {
	addr := startGRPC(t, NewWorkerGRPCServer(fakeWorkerInbound{}))

	client := NewGRPCClient(2 * time.Second)
	defer client.Close()

	resp, err := client.Ping(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestGRPCClientScheduleJobRoundTrip(t *testing.T) {
	addr := startGRPC(t, NewWorkerGRPCServer(fakeWorkerInbound{}))

	client := NewGRPCClient(2 * time.Second)
	defer client.Close()

	resp, err := client.ScheduleJob(context.Background(), addr, &ScheduleJobRequest{JobID: 1, InstanceID: 2})
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
}

func TestGRPCClientSurfacesTransportErrorOnUnreachableAddr(t *testing.T) {
	client := NewGRPCClient(100 * time.Millisecond)
	defer client.Close()

	_, err := client.Ping(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}

func TestGRPCClientCallAgainstServerInbound(t *testing.T) {
	addr := startGRPC(t, NewServerGRPCServer(fakeServerInbound{}))

	client := NewGRPCClient(2 * time.Second)
	defer client.Close()

	req := &HeartBeatRequest{Envelope: NewEnvelope(), WorkerAddress: addr, HeartbeatTimeMS: time.Now().UnixMilli()}
	var resp HeartBeatResponse
	err := client.Call(context.Background(), addr, ServerServiceName, "HeartBeat", req, &resp)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, resp.Code)
}
