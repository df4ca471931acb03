package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/idgen"
	"github.com/eliasyaoyc/fastjob/internal/instance"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// fakeGateway implements store.Gateway, embedding it so only the methods the
// scheduler actually calls need bodies; anything else panics if reached.
type fakeGateway struct {
	store.Gateway

	ownedApps []uint64

	cronJobs     map[uint64][]*store.JobInfo
	frequentJobs map[uint64][]*store.JobInfo
	workflowJobs map[uint64][]*store.JobInfo
	busyJobIDs   map[uint64][]uint64
	savedBatch   []*store.InstanceInfo
	savedSingle  []*store.InstanceInfo
	updatedJobs  []*store.JobInfo
}

func (f *fakeGateway) FindAllAppIDByCurrentServer(ctx context.Context, self string) ([]uint64, error) {
	return f.ownedApps, nil
}

func (f *fakeGateway) FindCronJobs(ctx context.Context, appIDs []uint64, threshold int64) ([]*store.JobInfo, error) {
	var out []*store.JobInfo
	for _, id := range appIDs {
		out = append(out, f.cronJobs[id]...)
	}
	return out, nil
}

func (f *fakeGateway) FindFrequentJobs(ctx context.Context, appIDs []uint64) ([]*store.JobInfo, error) {
	var out []*store.JobInfo
	for _, id := range appIDs {
		out = append(out, f.frequentJobs[id]...)
	}
	return out, nil
}

func (f *fakeGateway) FindWorkflowJobs(ctx context.Context, appIDs []uint64) ([]*store.JobInfo, error) {
	var out []*store.JobInfo
	for _, id := range appIDs {
		out = append(out, f.workflowJobs[id]...)
	}
	return out, nil
}

func (f *fakeGateway) FindFrequentRunningJobIDs(ctx context.Context, appIDs []uint64) ([]uint64, error) {
	var out []uint64
	for _, id := range appIDs {
		out = append(out, f.busyJobIDs[id]...)
	}
	return out, nil
}

func (f *fakeGateway) SaveInstanceInfoBatch(ctx context.Context, insts []*store.InstanceInfo) error {
	f.savedBatch = append(f.savedBatch, insts...)
	return nil
}

func (f *fakeGateway) SaveInstanceInfo(ctx context.Context, inst *store.InstanceInfo) error {
	f.savedSingle = append(f.savedSingle, inst)
	return nil
}

func (f *fakeGateway) UpdateJobInfo(ctx context.Context, job *store.JobInfo) error {
	f.updatedJobs = append(f.updatedJobs, job)
	return nil
}

func newLoop(gw *fakeGateway, v *clock.Virtual, dispatch chan DispatchMessage) *Loop {
	reg := registry.New(registry.DefaultWorkerTimeout)
	wheel := clock.New(v, time.Millisecond)
	go wheel.Run()
	mat := instance.New(idgen.New(1))
	return New("self", gw, reg, wheel, v, mat, dispatch)
}

func TestTickSchedulesDueCronJobAndRefreshesNextTrigger(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	dispatch := make(chan DispatchMessage, 8)

	next := v.NowMS()
	job := &store.JobInfo{ID: 1, AppID: 7, Status: store.JobRunning,
		TimeExpressionType: store.TimeExpressionCRON, TimeExpression: "*/5 * * * * *",
		NextTriggerTime: &next}

	gw := &fakeGateway{
		ownedApps: []uint64{7},
		cronJobs:  map[uint64][]*store.JobInfo{7: {job}},
	}
	loop := newLoop(gw, v, dispatch)

	loop.Tick(context.Background())

	require.Len(t, gw.savedBatch, 1)
	assert.Equal(t, uint64(1), gw.savedBatch[0].JobID)

	require.Len(t, gw.updatedJobs, 1)
	assert.NotNil(t, gw.updatedJobs[0].NextTriggerTime)
	assert.Greater(t, *gw.updatedJobs[0].NextTriggerTime, next)

	select {
	case msg := <-dispatch:
		assert.Equal(t, uint64(1), msg.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected cron job to be enqueued for dispatch")
	}
}

func TestTickDisablesJobWithInvalidCronExpression(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	dispatch := make(chan DispatchMessage, 8)

	next := v.NowMS()
	job := &store.JobInfo{ID: 2, AppID: 7, Status: store.JobRunning,
		TimeExpressionType: store.TimeExpressionCRON, TimeExpression: "not-a-cron-expr",
		NextTriggerTime: &next}

	gw := &fakeGateway{
		ownedApps: []uint64{7},
		cronJobs:  map[uint64][]*store.JobInfo{7: {job}},
	}
	loop := newLoop(gw, v, dispatch)

	loop.Tick(context.Background())

	require.Len(t, gw.updatedJobs, 1)
	assert.Equal(t, store.JobDisabled, gw.updatedJobs[0].Status)
	assert.Nil(t, gw.updatedJobs[0].NextTriggerTime)
}

func TestTickSkipsBusyFrequentJobs(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	dispatch := make(chan DispatchMessage, 8)

	busy := &store.JobInfo{ID: 10, AppID: 3, TimeExpressionType: store.TimeExpressionFixRate}
	free := &store.JobInfo{ID: 11, AppID: 3, TimeExpressionType: store.TimeExpressionFixRate}

	gw := &fakeGateway{
		ownedApps:    []uint64{3},
		frequentJobs: map[uint64][]*store.JobInfo{3: {busy, free}},
		busyJobIDs:   map[uint64][]uint64{3: {10}},
	}
	loop := newLoop(gw, v, dispatch)

	loop.Tick(context.Background())

	require.Len(t, gw.savedSingle, 1)
	assert.Equal(t, uint64(11), gw.savedSingle[0].JobID)

	select {
	case msg := <-dispatch:
		assert.Equal(t, uint64(11), msg.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected free frequent job to be dispatched")
	}

	select {
	case msg := <-dispatch:
		t.Fatalf("busy job should not have been dispatched: %+v", msg)
	default:
	}
}

func TestTickMaterialisesDueWorkflowJobOnce(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	dispatch := make(chan DispatchMessage, 8)

	busy := &store.JobInfo{ID: 20, AppID: 5, TimeExpressionType: store.TimeExpressionWorkflow}
	due := &store.JobInfo{ID: 21, AppID: 5, TimeExpressionType: store.TimeExpressionWorkflow}

	gw := &fakeGateway{
		ownedApps:    []uint64{5},
		workflowJobs: map[uint64][]*store.JobInfo{5: {busy, due}},
		busyJobIDs:   map[uint64][]uint64{5: {20}},
	}
	loop := newLoop(gw, v, dispatch)

	loop.Tick(context.Background())

	require.Len(t, gw.savedSingle, 1)
	assert.Equal(t, uint64(21), gw.savedSingle[0].JobID)

	select {
	case msg := <-dispatch:
		assert.Equal(t, uint64(21), msg.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("expected due workflow job to be dispatched")
	}

	select {
	case msg := <-dispatch:
		t.Fatalf("busy workflow job should not have been dispatched: %+v", msg)
	default:
	}
}

func TestTickSkipsWhenNoOwnedApps(t *testing.T) {
	v := clock.NewVirtual(time.Unix(1_700_000_000, 0))
	dispatch := make(chan DispatchMessage, 8)

	gw := &fakeGateway{ownedApps: nil}
	loop := newLoop(gw, v, dispatch)

	loop.Tick(context.Background())

	assert.Empty(t, gw.savedBatch)
	assert.Empty(t, gw.savedSingle)
}
