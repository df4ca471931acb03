package apiserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

type fakeGateway struct {
	store.Gateway

	jobs map[uint64]*store.JobInfo
}

func (f *fakeGateway) FindJobInfoByID(ctx context.Context, id uint64) (*store.JobInfo, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("job %d not found", id), errors.ErrNotFound)
	}
	return job, nil
}

func TestHeartBeatIngestsIntoRegistry(t *testing.T) {
	reg := registry.New(registry.DefaultWorkerTimeout)
	srv := New(nil, reg, nil, clock.NewReal())

	resp, err := srv.HeartBeat(context.Background(), &transport.HeartBeatRequest{
		AppID: 1, WorkerAddress: "10.0.0.1:9000", HeartbeatTimeMS: time.Now().UnixMilli(),
		Indicators: transport.WorkerIndicators{JVMMax: 4, JVMUsed: 1, CPUProcessors: 8, CPULoad: 1, DiskTotal: 100, DiskUsed: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, resp.Code)

	workers := reg.Cluster(1).PickWorkers(&store.JobInfo{}, time.Now().UnixMilli(), registry.DefaultWorkerTimeout)
	require.Len(t, workers, 1)
	assert.Equal(t, "10.0.0.1:9000", workers[0].Address)
}

func TestReportInstanceStatusWithoutReconcilerNoOps(t *testing.T) {
	srv := New(nil, registry.New(registry.DefaultWorkerTimeout), nil, clock.NewReal())
	resp, err := srv.ReportInstanceStatus(context.Background(), &transport.ReportInstanceStatusRequest{InstanceID: 1})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, resp.Code)
}

func TestPingRespondsOK(t *testing.T) {
	srv := New(nil, registry.New(registry.DefaultWorkerTimeout), nil, clock.NewReal())
	resp, err := srv.Ping(context.Background(), &transport.PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, resp.Code)
}

func TestQueryExecutorClusterRejectsCrossTenantLookup(t *testing.T) {
	gw := &fakeGateway{jobs: map[uint64]*store.JobInfo{
		42: {ID: 42, AppID: 1},
	}}
	reg := registry.New(registry.DefaultWorkerTimeout)
	srv := New(gw, reg, nil, clock.NewReal())

	resp, err := srv.QueryExecutorCluster(context.Background(), &transport.QueryExecutorClusterRequest{AppID: 2, JobID: 42})
	require.NoError(t, err)
	assert.Equal(t, transport.CodePermissionDenied, resp.Code)
	assert.Empty(t, resp.Addresses)
}

func TestQueryExecutorClusterReturnsNotFoundForUnknownJob(t *testing.T) {
	gw := &fakeGateway{jobs: map[uint64]*store.JobInfo{}}
	srv := New(gw, registry.New(registry.DefaultWorkerTimeout), nil, clock.NewReal())

	resp, err := srv.QueryExecutorCluster(context.Background(), &transport.QueryExecutorClusterRequest{AppID: 1, JobID: 99})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeNotFound, resp.Code)
}

func TestQueryExecutorClusterPicksWorkersForOwningApp(t *testing.T) {
	gw := &fakeGateway{jobs: map[uint64]*store.JobInfo{
		7: {ID: 7, AppID: 1, MaxWorkerCount: 5},
	}}
	reg := registry.New(registry.DefaultWorkerTimeout)
	srv := New(gw, reg, nil, clock.NewReal())

	_, err := srv.HeartBeat(context.Background(), &transport.HeartBeatRequest{
		AppID: 1, WorkerAddress: "10.0.0.2:9000", HeartbeatTimeMS: time.Now().UnixMilli(),
		Indicators: transport.WorkerIndicators{JVMMax: 4, JVMUsed: 1, CPUProcessors: 8, CPULoad: 1, DiskTotal: 100, DiskUsed: 10},
	})
	require.NoError(t, err)

	resp, err := srv.QueryExecutorCluster(context.Background(), &transport.QueryExecutorClusterRequest{AppID: 1, JobID: 7})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, resp.Code)
	assert.Equal(t, []string{"10.0.0.2:9000"}, resp.Addresses)
}
