package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/idgen"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

func TestMaterialiseNormalInstance(t *testing.T) {
	m := New(idgen.New(1))
	job := &store.JobInfo{ID: 10, AppID: 1, JobParams: `{"x":1}`}

	inst := m.Materialise(job, 5000, nil)

	require.NotNil(t, inst)
	assert.Equal(t, store.InstanceNormal, inst.InstanceType)
	assert.Nil(t, inst.WfInstanceID)
	assert.Equal(t, store.WaitingDispatch, inst.Status)
	assert.Equal(t, int64(5000), inst.ExpectedTriggerTime)
	assert.Equal(t, int64(-1), inst.LastReportTime)
	assert.Equal(t, 0, inst.RunningTimes)
	assert.Equal(t, job.JobParams, inst.JobParams)
	assert.NotZero(t, inst.InstanceID)
}

func TestMaterialiseWorkflowInstance(t *testing.T) {
	m := New(idgen.New(1))
	job := &store.JobInfo{ID: 11, AppID: 2}
	wf := uint64(99)

	inst := m.Materialise(job, 6000, &wf)

	assert.Equal(t, store.InstanceWorkflow, inst.InstanceType)
	require.NotNil(t, inst.WfInstanceID)
	assert.Equal(t, wf, *inst.WfInstanceID)
}

func TestMaterialiseAssignsUniqueMonotonicIDs(t *testing.T) {
	m := New(idgen.New(1))
	job := &store.JobInfo{ID: 1}

	a := m.Materialise(job, 1, nil)
	b := m.Materialise(job, 2, nil)

	assert.NotEqual(t, a.InstanceID, b.InstanceID)
	assert.Greater(t, b.InstanceID, a.InstanceID)
}
