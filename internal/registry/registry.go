// Package registry tracks worker processes heartbeating under each owned
// application and ranks them for job dispatch (spec.md §4.3).
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/store"
)

// DefaultWorkerTimeout is how long a worker may go without a heartbeat
// before it is excluded from selection.
const DefaultWorkerTimeout = 60 * time.Second

// Indicators is the resource snapshot a worker reports on every heartbeat.
type Indicators struct {
	JVMUsedGB   float64
	JVMMaxGB    float64
	CPULoad     float64
	CPUCores    float64
	DiskUsedGB  float64
	DiskTotalGB float64
}

// DeployInfo describes one container deployment reported by a worker.
type DeployInfo struct {
	ContainerID string
	Status      string
}

// WorkerRecord is one worker's last-known state within an app's cluster.
type WorkerRecord struct {
	Address        string
	Tag            string
	LastActiveMS   int64
	Indicators     Indicators
	Containers     map[string]DeployInfo
}

func (w *WorkerRecord) availableMemoryGB() float64 {
	return w.Indicators.JVMMaxGB - w.Indicators.JVMUsedGB
}

func (w *WorkerRecord) availableCPU() float64 {
	return w.Indicators.CPUCores - w.Indicators.CPULoad
}

func (w *WorkerRecord) availableDiskGB() float64 {
	return w.Indicators.DiskTotalGB - w.Indicators.DiskUsedGB
}

func (w *WorkerRecord) score() float64 {
	return w.availableMemoryGB() + w.availableCPU()
}

// Heartbeat is the ingest payload for one worker report (spec.md §6 HeartBeat).
type Heartbeat struct {
	Address         string
	Tag             string
	HeartbeatTimeMS int64
	Indicators      Indicators
	Containers      []DeployInfo
}

// Cluster is the set of workers currently heartbeating for one app_id. All
// methods are safe for concurrent use; each Cluster owns its own lock so
// operations on distinct apps never contend (spec.md §5).
type Cluster struct {
	appID uint64

	mu         sync.Mutex
	workers    map[string]*WorkerRecord
	containers map[string]map[string]DeployInfo
	warnedOnce map[string]bool
}

func newCluster(appID uint64) *Cluster {
	return &Cluster{
		appID:      appID,
		workers:    make(map[string]*WorkerRecord),
		containers: make(map[string]map[string]DeployInfo),
		warnedOnce: make(map[string]bool),
	}
}

// OnHeartbeat ingests a worker report, dropping it if it is stale relative
// to the worker's last reported time (spec.md §4.3).
func (c *Cluster) OnHeartbeat(hb Heartbeat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[hb.Address]
	if !ok {
		w = &WorkerRecord{Address: hb.Address, Containers: make(map[string]DeployInfo)}
		c.workers[hb.Address] = w
	}

	if hb.HeartbeatTimeMS < w.LastActiveMS {
		if !c.warnedOnce[hb.Address] {
			logger.ComponentLogger("registry").Warnw("stale heartbeat dropped",
				"app_id", c.appID, "address", hb.Address,
				"heartbeat_time_ms", hb.HeartbeatTimeMS, "last_active_ms", w.LastActiveMS)
			c.warnedOnce[hb.Address] = true
		}
		return
	}

	w.Tag = hb.Tag
	w.Indicators = hb.Indicators
	w.LastActiveMS = hb.HeartbeatTimeMS
	delete(c.warnedOnce, hb.Address)

	for _, d := range hb.Containers {
		w.Containers[d.ContainerID] = d
		byAddr, ok := c.containers[d.ContainerID]
		if !ok {
			byAddr = make(map[string]DeployInfo)
			c.containers[d.ContainerID] = byAddr
		}
		byAddr[hb.Address] = d
	}
}

// PickWorkers implements the selection pipeline of spec.md §4.3: designated
// filter, liveness filter, resource filter, rank descending by score with an
// address tiebreak, then cap by job.MaxWorkerCount.
func (c *Cluster) PickWorkers(job *store.JobInfo, nowMS int64, workerTimeout time.Duration) []*WorkerRecord {
	c.mu.Lock()
	snapshot := make([]*WorkerRecord, 0, len(c.workers))
	for _, w := range c.workers {
		cp := *w
		snapshot = append(snapshot, &cp)
	}
	c.mu.Unlock()

	designated := parseCSVSet(job.DesignatedWorkers)
	timeoutMS := workerTimeout.Milliseconds()

	var survivors []*WorkerRecord
	for _, w := range snapshot {
		if len(designated) > 0 {
			if !designated[w.Address] && !designated[w.Tag] {
				continue
			}
		}
		if nowMS-w.LastActiveMS > timeoutMS {
			continue
		}
		if w.availableMemoryGB() < job.MinMemoryGB {
			continue
		}
		if w.availableDiskGB() < job.MinDiskGB {
			continue
		}
		if w.availableCPU() < job.MinCPUCores {
			continue
		}
		survivors = append(survivors, w)
	}

	sort.Slice(survivors, func(i, j int) bool {
		si, sj := survivors[i].score(), survivors[j].score()
		if si != sj {
			return si > sj
		}
		return survivors[i].Address < survivors[j].Address
	})

	if job.MaxWorkerCount >= 1 && len(survivors) > job.MaxWorkerCount {
		survivors = survivors[:job.MaxWorkerCount]
	}

	return survivors
}

// GetContainerInfos returns every (address, DeployInfo) pair reporting
// containerID, or nil if none.
func (c *Cluster) GetContainerInfos(containerID string) map[string]DeployInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	byAddr, ok := c.containers[containerID]
	if !ok {
		return nil
	}
	out := make(map[string]DeployInfo, len(byAddr))
	for addr, info := range byAddr {
		out[addr] = info
	}
	return out
}

// CleanExpired removes worker records whose last heartbeat is older than
// 2x workerTimeout (spec.md §4.3 GC). The runtime runs it on its own
// fixed-rate schedule, once per worker timeout, not from the scheduler tick.
func (c *Cluster) CleanExpired(nowMS int64, workerTimeout time.Duration) {
	threshold := 2 * workerTimeout.Milliseconds()

	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, w := range c.workers {
		if nowMS-w.LastActiveMS > threshold {
			delete(c.workers, addr)
			delete(c.warnedOnce, addr)
			for cid, byAddr := range c.containers {
				delete(byAddr, addr)
				if len(byAddr) == 0 {
					delete(c.containers, cid)
				}
			}
		}
	}
}

func parseCSVSet(csv string) map[string]bool {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	set := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			set[p] = true
		}
	}
	return set
}

// Registry owns one Cluster per app_id owned by this node.
type Registry struct {
	workerTimeout time.Duration

	mu       sync.RWMutex
	clusters map[uint64]*Cluster
}

// New creates an empty Registry. workerTimeout overrides DefaultWorkerTimeout
// when non-zero.
func New(workerTimeout time.Duration) *Registry {
	if workerTimeout <= 0 {
		workerTimeout = DefaultWorkerTimeout
	}
	return &Registry{
		workerTimeout: workerTimeout,
		clusters:      make(map[uint64]*Cluster),
	}
}

// Cluster returns (creating if needed) the per-app cluster for appID.
func (r *Registry) Cluster(appID uint64) *Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clusters[appID]
	if !ok {
		c = newCluster(appID)
		r.clusters[appID] = c
	}
	return c
}

// RetainApps drops clusters for apps not present in appIDs (spec.md §4.5
// tick: "drop clusters we no longer own").
func (r *Registry) RetainApps(appIDs []uint64) {
	keep := make(map[uint64]bool, len(appIDs))
	for _, id := range appIDs {
		keep[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.clusters {
		if !keep[id] {
			delete(r.clusters, id)
		}
	}
}

// CleanExpired runs GC over every owned cluster.
func (r *Registry) CleanExpired(nowMS int64) {
	r.mu.RLock()
	clusters := make([]*Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		clusters = append(clusters, c)
	}
	r.mu.RUnlock()

	for _, c := range clusters {
		c.CleanExpired(nowMS, r.workerTimeout)
	}
}

// WorkerTimeout returns the liveness threshold this registry was built with.
func (r *Registry) WorkerTimeout() time.Duration {
	return r.workerTimeout
}
