package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/dispatch"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/eventbus"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

type fakeGateway struct {
	store.Gateway

	instances map[uint64]*store.InstanceInfo
	jobs      map[uint64]*store.JobInfo
	ownedApps []uint64
	stale     []*store.InstanceInfo
	updated   []*store.InstanceInfo
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{instances: map[uint64]*store.InstanceInfo{}, jobs: map[uint64]*store.JobInfo{}}
}

func (f *fakeGateway) FindInstanceByID(ctx context.Context, id uint64) (*store.InstanceInfo, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("not found"), errors.ErrNotFound)
	}
	return inst, nil
}

func (f *fakeGateway) FindJobInfoByID(ctx context.Context, id uint64) (*store.JobInfo, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.Mark(errors.Newf("not found"), errors.ErrNotFound)
	}
	return job, nil
}

func (f *fakeGateway) UpdateInstanceInfo(ctx context.Context, inst *store.InstanceInfo) error {
	f.updated = append(f.updated, inst)
	f.instances[inst.InstanceID] = inst
	return nil
}

func (f *fakeGateway) FindAllAppIDByCurrentServer(ctx context.Context, self string) ([]uint64, error) {
	return f.ownedApps, nil
}

func (f *fakeGateway) FindStaleInstances(ctx context.Context, appIDs []uint64, statuses []store.InstanceStatus, threshold int64) ([]*store.InstanceInfo, error) {
	return f.stale, nil
}

func TestOnReportAppliesSuccessAndPublishesCompletion(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.WaitingWorkerReceive, TaskTrackerAddress: "w1", LastReportTime: -1}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionCRON}

	var completed *eventbus.InstanceCompleted
	bus := eventbus.New(8, func(e eventbus.Event) error {
		completed = e.InstanceCompleted
		return nil
	})
	go bus.Run()
	defer bus.Stop()

	r := New("self", gw, v, bus, make(chan dispatch.Message, 1))

	resp, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "w1", ReportTimeMS: 100, Status: store.Success, Result: "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, transport.CodeOK, resp.Code)

	require.Len(t, gw.updated, 1)
	assert.Equal(t, store.Success, gw.updated[0].Status)
	assert.NotNil(t, gw.updated[0].FinishedTime)

	assert.Eventually(t, func() bool { return completed != nil }, time.Second, time.Millisecond)
}

func TestOnReportDropsStaleReport(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.Running, TaskTrackerAddress: "w1", LastReportTime: 500}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionCRON}

	r := New("self", gw, v, nil, make(chan dispatch.Message, 1))
	_, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "w1", ReportTimeMS: 100, Status: store.Running,
	})
	require.NoError(t, err)
	assert.Empty(t, gw.updated)
}

func TestOnReportDropsSourceMismatch(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.Running, TaskTrackerAddress: "w1", LastReportTime: -1}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionCRON}

	r := New("self", gw, v, nil, make(chan dispatch.Message, 1))
	_, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "intruder", ReportTimeMS: 100, Status: store.Running,
	})
	require.NoError(t, err)
	assert.Empty(t, gw.updated)
}

func TestOnReportSchedulesRetryWithinBudget(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.WaitingWorkerReceive, TaskTrackerAddress: "w1", LastReportTime: -1, RunningTimes: 0}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionCRON, InstanceRetryNum: 2}

	r := New("self", gw, v, nil, make(chan dispatch.Message, 1))
	_, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "w1", ReportTimeMS: 100, Status: store.Failed, Result: "boom",
	})
	require.NoError(t, err)

	require.Len(t, gw.updated, 1)
	assert.Equal(t, store.WaitingDispatch, gw.updated[0].Status)
	assert.Nil(t, gw.updated[0].FinishedTime)
}

func TestOnReportFinalisesAfterRetryBudgetExhausted(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.WaitingWorkerReceive, TaskTrackerAddress: "w1", LastReportTime: -1, RunningTimes: 3}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionCRON, InstanceRetryNum: 2}

	r := New("self", gw, v, nil, make(chan dispatch.Message, 1))
	_, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "w1", ReportTimeMS: 100, Status: store.Failed, Result: "boom",
	})
	require.NoError(t, err)

	require.Len(t, gw.updated, 1)
	assert.Equal(t, store.Failed, gw.updated[0].Status)
	assert.NotNil(t, gw.updated[0].FinishedTime)
}

func TestOnReportOverwritesFrequentInstanceWithoutRetryLogic(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.instances[1] = &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.Running, TaskTrackerAddress: "w1", LastReportTime: -1}
	gw.jobs[1] = &store.JobInfo{ID: 1, TimeExpressionType: store.TimeExpressionFixRate}

	r := New("self", gw, v, nil, make(chan dispatch.Message, 1))
	_, err := r.OnReport(context.Background(), &transport.ReportInstanceStatusRequest{
		InstanceID: 1, SourceAddress: "w1", ReportTimeMS: 100, Status: store.Failed, Result: "transient",
	})
	require.NoError(t, err)

	require.Len(t, gw.updated, 1)
	assert.Equal(t, store.Failed, gw.updated[0].Status)
	assert.Nil(t, gw.updated[0].FinishedTime)
}

func TestScanRedispatchesTimedOutRetryableInstance(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.ownedApps = []uint64{7}
	inst := &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.Running, RunningTimes: 0}
	gw.jobs[1] = &store.JobInfo{ID: 1, Status: store.JobRunning, TimeExpressionType: store.TimeExpressionCRON, InstanceRetryNum: 3}
	gw.stale = []*store.InstanceInfo{inst}

	out := make(chan dispatch.Message, 1)
	r := New("self", gw, v, nil, out)
	r.Scan(context.Background())

	select {
	case msg := <-out:
		assert.Equal(t, uint64(1), msg.InstanceID)
	default:
		t.Fatal("expected redispatch message")
	}
	assert.Empty(t, gw.updated)
}

func TestScanFinalisesExhaustedTimedOutInstance(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	gw := newFakeGateway()
	gw.ownedApps = []uint64{7}
	inst := &store.InstanceInfo{InstanceID: 1, JobID: 1, Status: store.Running, RunningTimes: 5}
	gw.jobs[1] = &store.JobInfo{ID: 1, Status: store.JobRunning, TimeExpressionType: store.TimeExpressionCRON, InstanceRetryNum: 3}
	gw.stale = []*store.InstanceInfo{inst}

	out := make(chan dispatch.Message, 1)
	r := New("self", gw, v, nil, out)
	r.Scan(context.Background())

	require.Len(t, gw.updated, 1)
	assert.Equal(t, store.Failed, gw.updated[0].Status)
	assert.Equal(t, "worker report timeout", gw.updated[0].Result)
}
