// Package reconcile is the control plane's source of truth for instance
// state transitions: it applies worker status reports and periodically
// redispatches instances a worker has gone silent on (spec.md §4.8).
package reconcile

import (
	"context"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/dispatch"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/eventbus"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

// RetryDelay is how far in the future a failed instance's retry is
// scheduled (spec.md §4.8 step 6).
const RetryDelay = 10 * time.Second

// ScanInterval is the periodic-scan cadence (spec.md §4.8).
const ScanInterval = 10 * time.Second

// WorkerTimeout bounds how long an instance may go without a fresh report
// before the periodic scan considers it abandoned (spec.md §4.8, §6 env).
const WorkerTimeout = 90 * time.Second

// Reconciler applies ReportInstanceStatus calls and runs the periodic
// timeout scan.
type Reconciler struct {
	self     string
	gateway  store.Gateway
	clock    clock.Clock
	bus      *eventbus.Bus
	dispatch chan<- dispatch.Message
}

// New creates a Reconciler. self is this server's address, used to scope
// the periodic scan to owned apps.
func New(self string, gw store.Gateway, c clock.Clock, bus *eventbus.Bus, dispatchOut chan<- dispatch.Message) *Reconciler {
	return &Reconciler{self: self, gateway: gw, clock: c, bus: bus, dispatch: dispatchOut}
}

// OnReport applies one ReportInstanceStatus call per spec.md §4.8 "On report".
func (r *Reconciler) OnReport(ctx context.Context, req *transport.ReportInstanceStatusRequest) (*transport.ReportInstanceStatusResponse, error) {
	log := logger.ComponentLogger("reconcile")

	inst, err := r.gateway.FindInstanceByID(ctx, req.InstanceID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
		}
		return nil, err
	}

	// 2. Freshness.
	if req.ReportTimeMS <= inst.LastReportTime {
		log.Infow("stale report dropped", "instance_id", req.InstanceID,
			"report_time_ms", req.ReportTimeMS, "last_report_time_ms", inst.LastReportTime)
		return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
	}

	// 3. Source check.
	if inst.TaskTrackerAddress != "" && req.SourceAddress != inst.TaskTrackerAddress {
		log.Warnw("report source mismatch, dropped", "instance_id", req.InstanceID,
			"source", req.SourceAddress, "expected", inst.TaskTrackerAddress)
		return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
	}

	inst.LastReportTime = req.ReportTimeMS

	job, err := r.gateway.FindJobInfoByID(ctx, inst.JobID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	// 5. Frequent jobs own their lifecycle at the worker: overwrite and return.
	if job != nil && (job.TimeExpressionType == store.TimeExpressionFixRate || job.TimeExpressionType == store.TimeExpressionFixDelay) {
		inst.Status = req.Status
		inst.Result = req.Result
		inst.RunningTimes++
		if err := r.gateway.UpdateInstanceInfo(ctx, inst); err != nil {
			return nil, err
		}
		if inst.Status.IsTerminal() {
			r.publishCompletion(inst)
		}
		return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
	}

	finished := r.applyTransition(inst, job, req.Status, req.Result)

	if err := r.gateway.UpdateInstanceInfo(ctx, inst); err != nil {
		return nil, err
	}
	if finished {
		r.publishCompletion(inst)
	}

	return &transport.ReportInstanceStatusResponse{Result: transport.Result{Code: transport.CodeOK}}, nil
}

// applyTransition mutates inst per spec.md §4.8 step 6 and reports whether
// the instance reached a terminal state this call.
func (r *Reconciler) applyTransition(inst *store.InstanceInfo, job *store.JobInfo, status store.InstanceStatus, result string) bool {
	if inst.Status == store.WaitingWorkerReceive {
		inst.RunningTimes++
	}
	inst.Status = status

	switch status {
	case store.Success:
		now := r.clock.NowMS()
		inst.Result = result
		inst.FinishedTime = &now
		return true
	case store.Failed:
		retryBudget := 0
		if job != nil {
			retryBudget = job.InstanceRetryNum
		}
		if inst.RunningTimes <= retryBudget {
			next := r.clock.NowMS() + RetryDelay.Milliseconds()
			inst.ExpectedTriggerTime = next
			inst.Status = store.WaitingDispatch
			return false
		}
		now := r.clock.NowMS()
		inst.Result = result
		inst.FinishedTime = &now
		return true
	default:
		return false
	}
}

func (r *Reconciler) publishCompletion(inst *store.InstanceInfo) {
	if r.bus == nil {
		return
	}
	r.bus.PublishInstanceCompleted(eventbus.InstanceCompleted{
		InstanceID:   inst.InstanceID,
		WfInstanceID: inst.WfInstanceID,
		Status:       inst.Status,
		Result:       inst.Result,
	})
}

// Scan runs one periodic-scan pass over owned apps' non-terminal instances,
// redispatching or finalising ones whose worker has gone silent (spec.md
// §4.8 "Periodic scan").
func (r *Reconciler) Scan(ctx context.Context) {
	log := logger.ComponentLogger("reconcile")

	appIDs, err := r.gateway.FindAllAppIDByCurrentServer(ctx, r.self)
	if err != nil {
		log.Errorw("find owned apps failed", "error", err)
		return
	}
	if len(appIDs) == 0 {
		return
	}

	threshold := r.clock.NowMS() - WorkerTimeout.Milliseconds()
	statuses := []store.InstanceStatus{store.WaitingWorkerReceive, store.Running}
	stale, err := r.gateway.FindStaleInstances(ctx, appIDs, statuses, threshold)
	if err != nil {
		log.Errorw("find stale instances failed", "error", err)
		return
	}

	for _, inst := range stale {
		r.scanOne(ctx, inst)
	}
}

func (r *Reconciler) scanOne(ctx context.Context, inst *store.InstanceInfo) {
	log := logger.ComponentLogger("reconcile")

	job, err := r.gateway.FindJobInfoByID(ctx, inst.JobID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		log.Errorw("load job for stale instance failed", "instance_id", inst.InstanceID, "error", err)
		return
	}

	frequent := job != nil && (job.TimeExpressionType == store.TimeExpressionFixRate || job.TimeExpressionType == store.TimeExpressionFixDelay)
	exhausted := job == nil || job.Status != store.JobRunning || frequent || inst.RunningTimes >= job.InstanceRetryNum

	if exhausted {
		now := r.clock.NowMS()
		inst.Status = store.Failed
		inst.Result = "worker report timeout"
		inst.FinishedTime = &now
		inst.RunningTimes++
		if err := r.gateway.UpdateInstanceInfo(ctx, inst); err != nil {
			log.Errorw("finalise timed-out instance failed", "instance_id", inst.InstanceID, "error", err)
			return
		}
		r.publishCompletion(inst)
		return
	}

	msg := dispatch.Message{Job: job, InstanceID: inst.InstanceID}
	select {
	case r.dispatch <- msg:
	default:
		log.Errorw("dispatch channel full, dropping redispatch", "instance_id", inst.InstanceID)
	}
}
