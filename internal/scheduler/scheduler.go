// Package scheduler is the control plane's periodic tick: it fetches jobs
// the local server owns and feeds due work into the dispatch channel
// (spec.md §4.5).
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/dispatch"
	"github.com/eliasyaoyc/fastjob/internal/instance"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// ScheduleInterval is the tick period C10 drives this loop at (spec.md §4.5).
const ScheduleInterval = 10 * time.Second

// appIDChunkSize bounds how many app ids go into one store query (spec.md §4.5).
const appIDChunkSize = 10

// DispatchMessage is what the scheduler hands off to the dispatcher: a job
// and the instance materialised for one of its firings. It is the
// dispatcher's own Message type, so one channel serves both.
type DispatchMessage = dispatch.Message

// Loop owns one tick of the scheduler (spec.md §4.5).
type Loop struct {
	self     string
	gateway  store.Gateway
	registry *registry.Registry
	wheel    *clock.Wheel
	clock    clock.Clock
	mat      *instance.Materialiser
	dispatch chan<- DispatchMessage

	cronParser cron.Parser
}

// New builds a Loop. self is this server's address, used to find
// apps it owns via FindAllAppIDByCurrentServer. dispatch is the channel
// the dispatcher (C7) consumes from.
func New(self string, gw store.Gateway, reg *registry.Registry, wheel *clock.Wheel, c clock.Clock, mat *instance.Materialiser, dispatch chan<- DispatchMessage) *Loop {
	return &Loop{
		self:     self,
		gateway:  gw,
		registry: reg,
		wheel:    wheel,
		clock:    c,
		mat:      mat,
		dispatch: dispatch,
		cronParser: cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Tick runs one full scheduling pass: find owned apps, then the CRON,
// workflow, and frequent sub-pipelines in order (spec.md §4.5).
func (l *Loop) Tick(ctx context.Context) {
	log := logger.ComponentLogger("scheduler")

	appIDs, err := l.gateway.FindAllAppIDByCurrentServer(ctx, l.self)
	if err != nil {
		if db.IsDatabaseClosed(err) {
			// Shutdown raced the tick: Runtime.Stop closed the database out
			// from under this goroutine before ScheduleAtFixedRate's Cancel
			// took effect. Expected, not a fault.
			log.Debugw("tick skipped, database closed", "error", err)
			return
		}
		log.Errorw("find owned apps failed", "error", err)
		return
	}
	if len(appIDs) == 0 {
		return
	}

	l.registry.RetainApps(appIDs)

	t0 := l.clock.Now()
	l.scheduleCron(ctx, appIDs)
	l.scheduleWorkflow(ctx, appIDs)
	t1 := l.clock.Now()
	l.scheduleFrequent(ctx, appIDs)
	t2 := l.clock.Now()

	if t2.Sub(t0) > ScheduleInterval {
		log.Warnw("scheduler tick exceeded interval, store may be slow",
			"cron_and_workflow", t1.Sub(t0), "total", t2.Sub(t0))
	}
}

func chunkAppIDs(appIDs []uint64) [][]uint64 {
	return store.FormatAppIDChunks(appIDs, appIDChunkSize)
}

func (l *Loop) scheduleCron(ctx context.Context, appIDs []uint64) {
	log := logger.ComponentLogger("scheduler")
	now := l.clock.Now()
	nowMS := l.clock.NowMS()
	threshold := nowMS + 2*ScheduleInterval.Milliseconds()

	for _, chunk := range chunkAppIDs(appIDs) {
		jobs, err := l.gateway.FindCronJobs(ctx, chunk, threshold)
		if err != nil {
			log.Errorw("find cron jobs failed", "error", err)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		insts := make([]*store.InstanceInfo, 0, len(jobs))
		for _, job := range jobs {
			expected := nowMS
			if job.NextTriggerTime != nil {
				expected = *job.NextTriggerTime
			}
			insts = append(insts, l.mat.Materialise(job, expected, nil))
		}

		if err := l.gateway.SaveInstanceInfoBatch(ctx, insts); err != nil {
			log.Errorw("save cron instances failed", "error", err)
			continue
		}

		for i, job := range jobs {
			l.enqueueDispatch(job, insts[i], nowMS, log)
			l.refreshNextTrigger(ctx, job, now, log)
		}
	}
}

func (l *Loop) enqueueDispatch(job *store.JobInfo, inst *store.InstanceInfo, nowMS int64, log *zap.SugaredLogger) {
	if inst.ExpectedTriggerTime < nowMS {
		log.Warnw("schedule delay", "job_id", job.ID, "instance_id", inst.InstanceID,
			"expected_ms", inst.ExpectedTriggerTime, "now_ms", nowMS)
	}
	msg := DispatchMessage{Job: job, InstanceID: inst.InstanceID}
	l.wheel.Schedule(inst.ExpectedTriggerTime, func() {
		select {
		case l.dispatch <- msg:
		default:
			log.Errorw("dispatch channel full, dropping fire", "job_id", job.ID, "instance_id", inst.InstanceID)
		}
	})
}

func (l *Loop) refreshNextTrigger(ctx context.Context, job *store.JobInfo, now time.Time, log *zap.SugaredLogger) {
	schedule, err := l.cronParser.Parse(job.TimeExpression)
	if err != nil {
		log.Errorw("invalid cron expression, disabling job", "job_id", job.ID, "expr", job.TimeExpression, "error", err)
		job.Status = store.JobDisabled
		job.NextTriggerTime = nil
		if err := l.gateway.UpdateJobInfo(ctx, job); err != nil {
			log.Errorw("persist disabled job failed", "job_id", job.ID, "error", err)
		}
		return
	}

	next := schedule.Next(now)
	if next.IsZero() {
		job.Status = store.JobDisabled
		job.NextTriggerTime = nil
	} else {
		nextMS := next.UnixMilli()
		job.NextTriggerTime = &nextMS
	}

	if err := l.gateway.UpdateJobInfo(ctx, job); err != nil {
		log.Errorw("persist next trigger time failed", "job_id", job.ID, "error", err)
	}
}

func (l *Loop) scheduleFrequent(ctx context.Context, appIDs []uint64) {
	log := logger.ComponentLogger("scheduler")
	nowMS := l.clock.NowMS()

	for _, chunk := range chunkAppIDs(appIDs) {
		jobs, err := l.gateway.FindFrequentJobs(ctx, chunk)
		if err != nil {
			log.Errorw("find frequent jobs failed", "error", err)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		busyIDs, err := l.gateway.FindFrequentRunningJobIDs(ctx, chunk)
		if err != nil {
			log.Errorw("find frequent running job ids failed", "error", err)
			continue
		}
		busy := make(map[uint64]bool, len(busyIDs))
		for _, id := range busyIDs {
			busy[id] = true
		}

		for _, job := range jobs {
			if busy[job.ID] {
				continue
			}
			inst := l.mat.Materialise(job, nowMS, nil)
			if err := l.gateway.SaveInstanceInfo(ctx, inst); err != nil {
				log.Errorw("save frequent instance failed", "job_id", job.ID, "error", err)
				continue
			}
			msg := DispatchMessage{Job: job, InstanceID: inst.InstanceID}
			select {
			case l.dispatch <- msg:
			default:
				log.Errorw("dispatch channel full, dropping frequent fire", "job_id", job.ID, "instance_id", inst.InstanceID)
			}
		}
	}
}

// scheduleWorkflow enumerates due workflow jobs, materialises one instance
// per job with no in-flight instance already, and forwards the same
// (job, instance_id) dispatch message a CRON or frequent firing would
// produce. The node-by-node traversal algorithm belongs to a separate
// coordinator not built here (spec.md §4.5, §9 Open Questions); this hook
// only covers the single-firing enumeration/materialise/dispatch step.
func (l *Loop) scheduleWorkflow(ctx context.Context, appIDs []uint64) {
	log := logger.ComponentLogger("scheduler")
	nowMS := l.clock.NowMS()

	for _, chunk := range chunkAppIDs(appIDs) {
		jobs, err := l.gateway.FindWorkflowJobs(ctx, chunk)
		if err != nil {
			log.Errorw("find workflow jobs failed", "error", err)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		busyIDs, err := l.gateway.FindFrequentRunningJobIDs(ctx, chunk)
		if err != nil {
			log.Errorw("find workflow running job ids failed", "error", err)
			continue
		}
		busy := make(map[uint64]bool, len(busyIDs))
		for _, id := range busyIDs {
			busy[id] = true
		}

		for _, job := range jobs {
			if busy[job.ID] {
				continue
			}
			inst := l.mat.Materialise(job, nowMS, nil)
			if err := l.gateway.SaveInstanceInfo(ctx, inst); err != nil {
				log.Errorw("save workflow instance failed", "job_id", job.ID, "error", err)
				continue
			}
			msg := DispatchMessage{Job: job, InstanceID: inst.InstanceID}
			select {
			case l.dispatch <- msg:
			default:
				log.Errorw("dispatch channel full, dropping workflow fire", "job_id", job.ID, "instance_id", inst.InstanceID)
			}
		}
	}
}
