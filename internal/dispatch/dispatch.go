// Package dispatch is the control plane's single consumer of due
// (job, instance_id) messages: it checks the instance is still dispatchable,
// picks a worker, and sends the ScheduleJob RPC (spec.md §4.7).
package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

// Message is one unit of work handed off by the scheduler or the
// reconciler's redispatch path.
type Message struct {
	Job        *store.JobInfo
	InstanceID uint64
}

// NonTerminalRunning is the set of instance statuses that count against a
// job's max_instance_num concurrency cap (spec.md §4.7 step 3).
var NonTerminalRunning = []store.InstanceStatus{store.WaitingWorkerReceive, store.Running}

// Dispatcher consumes Messages and attempts to hand each one to a worker.
type Dispatcher struct {
	gateway  store.Gateway
	registry *registry.Registry
	client   transport.WorkerClient
	clock    clock.Clock
	limiter  *rate.Limiter

	in   <-chan Message
	stop chan struct{}
	done chan struct{}
}

// New creates a Dispatcher reading from in. limiter, if non-nil, bounds the
// rate of outbound ScheduleJob RPCs; a message exceeding the limit is
// rejected with ErrSchedulerBusy rather than blocking the consumer loop
// (SPEC_FULL.md's rate-limiting extension to spec.md §4.7).
func New(gw store.Gateway, reg *registry.Registry, client transport.WorkerClient, c clock.Clock, limiter *rate.Limiter, in <-chan Message) *Dispatcher {
	return &Dispatcher{
		gateway:  gw,
		registry: reg,
		client:   client,
		clock:    c,
		limiter:  limiter,
		in:       in,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes messages until Stop is called. Call from a dedicated goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case msg := <-d.in:
			d.dispatch(ctx, msg)
		}
	}
}

// Stop halts the consumer loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	log := logger.ComponentLogger("dispatch")

	inst, err := d.gateway.FindInstanceByID(ctx, msg.InstanceID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return // assumed cancelled
		}
		log.Errorw("load instance failed", "instance_id", msg.InstanceID, "error", err)
		return
	}

	// 1. instance-state gate.
	if inst.Status == store.Canceled {
		log.Infow("instance canceled, dropping", "instance_id", msg.InstanceID)
		return
	}
	if inst.Status != store.WaitingDispatch {
		log.Infow("instance already dispatched, dropping", "instance_id", msg.InstanceID, "status", inst.Status)
		return
	}

	// 2. job existence.
	job := msg.Job
	if job == nil {
		d.finish(ctx, inst, "job deleted")
		return
	}

	// 3. concurrency cap.
	if job.MaxInstanceNum > 0 {
		running, err := d.gateway.CountInstancesByStatus(ctx, job.ID, NonTerminalRunning)
		if err != nil {
			log.Errorw("count running instances failed", "job_id", job.ID, "error", err)
			return
		}
		if running >= job.MaxInstanceNum {
			d.finish(ctx, inst, fmt.Sprintf("exceed max_instance_num=%d", job.MaxInstanceNum))
			return
		}
	}

	// rate-limit before worker selection/RPC, rejecting rather than blocking
	// the single-consumer loop (SPEC_FULL.md rate-limiting extension).
	if d.limiter != nil && !d.limiter.Allow() {
		log.Warnw("scheduler busy, rejecting dispatch", "job_id", job.ID, "instance_id", msg.InstanceID,
			"error", errors.ErrSchedulerBusy)
		d.finish(ctx, inst, "scheduler busy")
		return
	}

	// 4. worker selection.
	cluster := d.registry.Cluster(job.AppID)
	workers := cluster.PickWorkers(job, d.clock.NowMS(), d.registry.WorkerTimeout())
	if len(workers) == 0 {
		d.finish(ctx, inst, "no available worker")
		return
	}
	chosen := workers[0]

	// 5. build request and send.
	req := &transport.ScheduleJobRequest{
		Envelope:          transport.NewEnvelope(),
		JobID:             job.ID,
		InstanceID:        inst.InstanceID,
		JobParams:         inst.JobParams,
		InstanceTimeLimit: job.InstanceTimeLimit,
		TaskRetryNum:      job.TaskRetryNum,
		ProcessorType:     job.ProcessorType,
		ExecuteType:       job.ExecuteType,
	}
	if _, err := d.client.ScheduleJob(ctx, chosen.Address, req); err != nil {
		// Transport failure: do not retry inline. The instance is still
		// recorded as WaitingWorkerReceive below, so the reconciler's timeout
		// scan redispatches it (spec.md §4.7).
		log.Warnw("schedule RPC failed, relying on reconciler timeout", "job_id", job.ID,
			"instance_id", msg.InstanceID, "worker", chosen.Address, "error", err)
	}

	// 6. persist trigger result.
	now := d.clock.NowMS()
	inst.ActualTriggerTime = &now
	inst.TaskTrackerAddress = chosen.Address
	inst.Status = store.WaitingWorkerReceive
	if err := d.gateway.UpdateInstanceInfo(ctx, inst); err != nil {
		log.Errorw("persist trigger result failed", "instance_id", msg.InstanceID, "error", err)
	}
}

func (d *Dispatcher) finish(ctx context.Context, inst *store.InstanceInfo, reason string) {
	log := logger.ComponentLogger("dispatch")
	now := d.clock.NowMS()
	inst.Status = store.Failed
	inst.Result = reason
	inst.FinishedTime = &now
	if err := d.gateway.UpdateInstanceInfo(ctx, inst); err != nil {
		log.Errorw("persist trigger failure failed", "instance_id", inst.InstanceID, "error", err)
	}
}
