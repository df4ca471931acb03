// Package instance builds InstanceInfo rows from job definitions at
// trigger time (spec.md §4.6).
package instance

import (
	"github.com/eliasyaoyc/fastjob/internal/idgen"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// Materialiser creates InstanceInfo rows ready to persist and dispatch.
type Materialiser struct {
	ids *idgen.Generator
}

// New builds a Materialiser backed by ids for instance-id assignment.
func New(ids *idgen.Generator) *Materialiser {
	return &Materialiser{ids: ids}
}

// Materialise builds an InstanceInfo for job firing at expectedTriggerMS.
// wfInstanceID, when non-nil, marks this as a workflow-driven instance
// (spec.md §4.6). job.JobParams is copied by value so later job edits
// never affect an already-materialised instance.
func (m *Materialiser) Materialise(job *store.JobInfo, expectedTriggerMS int64, wfInstanceID *uint64) *store.InstanceInfo {
	instanceType := store.InstanceNormal
	if wfInstanceID != nil {
		instanceType = store.InstanceWorkflow
	}

	return &store.InstanceInfo{
		InstanceID:          m.ids.Next(),
		JobID:               job.ID,
		AppID:               job.AppID,
		InstanceType:        instanceType,
		WfInstanceID:        wfInstanceID,
		Status:              store.WaitingDispatch,
		ExpectedTriggerTime: expectedTriggerMS,
		LastReportTime:      -1,
		RunningTimes:        0,
		JobParams:           job.JobParams,
	}
}
