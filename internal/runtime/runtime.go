// Package runtime owns the control plane's component lifecycle: construct
// in dependency order (C2 → C3 → C10 → C5/C7/C8/C9), start, and stop
// cleanly on shutdown. This replaces a trait-object component registry with
// an explicit, ordered value (spec.md §9 Design Notes).
package runtime

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/eliasyaoyc/fastjob/internal/apiserver"
	"github.com/eliasyaoyc/fastjob/internal/clock"
	"github.com/eliasyaoyc/fastjob/internal/config"
	"github.com/eliasyaoyc/fastjob/internal/db"
	"github.com/eliasyaoyc/fastjob/internal/dispatch"
	"github.com/eliasyaoyc/fastjob/internal/errors"
	"github.com/eliasyaoyc/fastjob/internal/eventbus"
	"github.com/eliasyaoyc/fastjob/internal/executor"
	"github.com/eliasyaoyc/fastjob/internal/idgen"
	"github.com/eliasyaoyc/fastjob/internal/instance"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/notify"
	"github.com/eliasyaoyc/fastjob/internal/ownership"
	"github.com/eliasyaoyc/fastjob/internal/reconcile"
	"github.com/eliasyaoyc/fastjob/internal/registry"
	"github.com/eliasyaoyc/fastjob/internal/scheduler"
	"github.com/eliasyaoyc/fastjob/internal/store"
	"github.com/eliasyaoyc/fastjob/internal/transport"
	"github.com/eliasyaoyc/fastjob/internal/version"
)

// Runtime holds every live component for one fastjobd process. Build it
// with New, start it with Start, and always Stop it on shutdown.
type Runtime struct {
	cfg  *config.Config
	self string

	db         *sql.DB
	gateway    store.Gateway
	registry   *registry.Registry
	wheel      *clock.Wheel
	pool       *executor.Pool
	ownership  *ownership.Service
	bus        *eventbus.Bus
	rpcClient  *transport.GRPCClient
	dispatchCh chan dispatch.Message
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Loop
	reconciler *reconcile.Reconciler
	inbound    *apiserver.Server

	handles []executor.Handle
}

// New wires every component in dependency order: C2 (store) → C3
// (registry) → C10 (executor pool) → C4 (ownership) → C9 (event bus) → C7
// (dispatcher) → C5 (scheduler) → C8 (reconciler) (spec.md §9).
func New(cfg *config.Config) (*Runtime, error) {
	self := cfg.Server.Addr

	sqlDB, err := sql.Open("sqlite3", cfg.GetDatabasePath()+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "open database"), errors.ErrStorage)
	}
	if err := db.Migrate(sqlDB, logger.ComponentLogger("db")); err != nil {
		return nil, err
	}

	gw := store.NewSQLiteGateway(sqlDB)

	workerTimeout := time.Duration(cfg.Scheduler.WorkerTimeoutSeconds) * time.Second
	reg := registry.New(workerTimeout)

	realClock := clock.Real{}
	wheel := clock.New(realClock, 100*time.Millisecond)
	pool := executor.New(realClock, cfg.Scheduler.ExecutorPoolSize)

	rpcClient := transport.NewGRPCClient(10 * time.Second)
	nodeID, err := idgen.NodeIDFromAddr(self)
	if err != nil {
		return nil, errors.Wrap(err, "derive node id")
	}
	ids := idgen.New(nodeID)
	mat := instance.New(ids)

	ownSvc := ownership.New(gw, rpcClient, realClock,
		self,
		ownership.WithLockHoldMS(int64(cfg.Scheduler.ElectionLockHoldMS)),
		ownership.WithRetryTimes(cfg.Scheduler.ElectionRetryTimes),
	)

	var sinks []notify.Sink
	if cfg.Alarm.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Alarm.WebhookURL, 5*time.Second))
	}
	if cfg.Alarm.IMWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Alarm.IMWebhookURL, 5*time.Second))
	}
	bus := eventbus.New(cfg.Scheduler.DispatchQueueCapacity, notify.Route(sinks))

	dispatchCh := make(chan dispatch.Message, cfg.Scheduler.DispatchQueueCapacity)
	limiter := rate.NewLimiter(rate.Limit(cfg.Scheduler.DispatchQueueCapacity), cfg.Scheduler.DispatchQueueCapacity)
	dispatcher := dispatch.New(gw, reg, rpcClient, realClock, limiter, dispatchCh)

	sched := scheduler.New(self, gw, reg, wheel, realClock, mat, dispatchCh)
	rec := reconcile.New(self, gw, realClock, bus, dispatchCh)
	inbound := apiserver.New(gw, reg, rec, realClock)

	return &Runtime{
		cfg:        cfg,
		self:       self,
		db:         sqlDB,
		gateway:    gw,
		registry:   reg,
		wheel:      wheel,
		pool:       pool,
		ownership:  ownSvc,
		rpcClient:  rpcClient,
		bus:        bus,
		dispatchCh: dispatchCh,
		dispatcher: dispatcher,
		scheduler:  sched,
		reconciler: rec,
		inbound:    inbound,
	}, nil
}

// Inbound returns the wired transport.ServerInbound implementation, ready
// to be handed to transport.NewServerGRPCServer for serving.
func (r *Runtime) Inbound() transport.ServerInbound {
	return r.inbound
}

// Gateway exposes the store gateway for CLI subcommands (e.g. job seeding).
func (r *Runtime) Gateway() store.Gateway {
	return r.gateway
}

// Start launches every background loop: the timing wheel, the dispatcher,
// the event bus, and the periodic scheduler/reconciler ticks (spec.md §4.5,
// §4.8, §4.10).
func (r *Runtime) Start(ctx context.Context) {
	go r.wheel.Run()
	go r.dispatcher.Run(ctx)
	go r.bus.Run()

	scheduleInterval := time.Duration(r.cfg.Scheduler.IntervalSeconds) * time.Second
	r.handles = append(r.handles, r.pool.ScheduleAtFixedRate(func() {
		r.scheduler.Tick(ctx)
	}, 0, scheduleInterval))

	r.handles = append(r.handles, r.pool.ScheduleAtFixedRate(func() {
		r.reconciler.Scan(ctx)
	}, reconcile.ScanInterval, reconcile.ScanInterval))

	workerTimeout := time.Duration(r.cfg.Scheduler.WorkerTimeoutSeconds) * time.Second
	r.handles = append(r.handles, r.pool.ScheduleAtFixedRate(func() {
		r.registry.CleanExpired(time.Now().UnixMilli())
	}, workerTimeout, workerTimeout))

	electionInterval := time.Duration(r.cfg.Scheduler.ElectionIntervalSeconds) * time.Second
	r.handles = append(r.handles, r.pool.ScheduleAtFixedRate(func() {
		if err := r.ownership.RunElection(ctx); err != nil {
			logger.ComponentLogger("runtime").Errorw("election sweep failed", "error", err)
		}
	}, 0, electionInterval))

	startupFields := append([]interface{}{"self", r.self, "database", r.cfg.GetDatabasePath()}, version.Get().Fields()...)
	logger.ComponentLogger("runtime").Infow("started", startupFields...)
}

// Stop cancels every scheduled task, halts the background loops, then
// sleeps shutdown_drain_seconds (spec.md §6 env) before closing the database.
func (r *Runtime) Stop() {
	for _, h := range r.handles {
		h.Cancel()
	}
	r.dispatcher.Stop()
	r.bus.Stop()
	r.wheel.Stop()
	r.rpcClient.Close()

	drain := time.Duration(r.cfg.Scheduler.ShutdownDrainSeconds) * time.Second
	time.Sleep(drain)

	if err := r.db.Close(); err != nil {
		logger.ComponentLogger("runtime").Errorw("close database failed", "error", err)
	}
}
