package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliasyaoyc/fastjob/internal/store"
)

func heartbeat(addr string, t int64, avail Indicators) Heartbeat {
	return Heartbeat{Address: addr, HeartbeatTimeMS: t, Indicators: avail}
}

func TestStaleHeartbeatDropped(t *testing.T) {
	c := newCluster(1)
	c.OnHeartbeat(heartbeat("w1", 1000, Indicators{}))
	c.OnHeartbeat(heartbeat("w1", 999, Indicators{}))

	c.mu.Lock()
	last := c.workers["w1"].LastActiveMS
	c.mu.Unlock()
	assert.Equal(t, int64(1000), last, "stale heartbeat must not move last_active backwards")
}

func TestPickWorkersRanksByScoreThenAddress(t *testing.T) {
	c := newCluster(1)
	now := int64(10_000)
	c.OnHeartbeat(heartbeat("10.0.0.2", now, Indicators{JVMMaxGB: 8, JVMUsedGB: 2, CPUCores: 4, CPULoad: 1}))
	c.OnHeartbeat(heartbeat("10.0.0.1", now, Indicators{JVMMaxGB: 8, JVMUsedGB: 2, CPUCores: 4, CPULoad: 1}))
	c.OnHeartbeat(heartbeat("10.0.0.3", now, Indicators{JVMMaxGB: 16, JVMUsedGB: 4, CPUCores: 8, CPULoad: 0}))

	job := &store.JobInfo{MinMemoryGB: 1, MinCPUCores: 1}
	picked := c.PickWorkers(job, now, DefaultWorkerTimeout)

	require.Len(t, picked, 3)
	assert.Equal(t, "10.0.0.3", picked[0].Address, "highest available score first")
	assert.Equal(t, "10.0.0.1", picked[1].Address, "tie broken by lexicographic address")
	assert.Equal(t, "10.0.0.2", picked[2].Address)
}

func TestPickWorkersDesignatedFilter(t *testing.T) {
	c := newCluster(1)
	now := int64(1000)
	c.OnHeartbeat(heartbeat("w1", now, Indicators{JVMMaxGB: 8, CPUCores: 4}))
	c.OnHeartbeat(heartbeat("w2", now, Indicators{JVMMaxGB: 8, CPUCores: 4}))

	job := &store.JobInfo{DesignatedWorkers: "w2"}
	picked := c.PickWorkers(job, now, DefaultWorkerTimeout)

	require.Len(t, picked, 1)
	assert.Equal(t, "w2", picked[0].Address)
}

func TestPickWorkersLivenessFilter(t *testing.T) {
	c := newCluster(1)
	c.OnHeartbeat(heartbeat("w1", 0, Indicators{JVMMaxGB: 8, CPUCores: 4}))

	job := &store.JobInfo{}
	now := DefaultWorkerTimeout.Milliseconds() + 1
	picked := c.PickWorkers(job, now, DefaultWorkerTimeout)
	assert.Empty(t, picked, "worker past timeout must be excluded")
}

func TestPickWorkersResourceFilter(t *testing.T) {
	c := newCluster(1)
	now := int64(0)
	c.OnHeartbeat(heartbeat("small", now, Indicators{JVMMaxGB: 2, JVMUsedGB: 1.9}))
	c.OnHeartbeat(heartbeat("big", now, Indicators{JVMMaxGB: 16, JVMUsedGB: 1}))

	job := &store.JobInfo{MinMemoryGB: 4}
	picked := c.PickWorkers(job, now, DefaultWorkerTimeout)

	require.Len(t, picked, 1)
	assert.Equal(t, "big", picked[0].Address)
}

func TestPickWorkersMaxWorkerCountCaps(t *testing.T) {
	c := newCluster(1)
	now := int64(0)
	for _, addr := range []string{"a", "b", "c"} {
		c.OnHeartbeat(heartbeat(addr, now, Indicators{JVMMaxGB: 8, CPUCores: 4}))
	}

	job := &store.JobInfo{MaxWorkerCount: 2}
	picked := c.PickWorkers(job, now, DefaultWorkerTimeout)
	assert.Len(t, picked, 2)
}

func TestCleanExpiredRemovesOldWorkers(t *testing.T) {
	c := newCluster(1)
	c.OnHeartbeat(heartbeat("gone", 0, Indicators{}))
	c.OnHeartbeat(heartbeat("fresh", 100_000, Indicators{}))

	c.CleanExpired(2*DefaultWorkerTimeout.Milliseconds()+1, DefaultWorkerTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, goneStillThere := c.workers["gone"]
	_, freshStillThere := c.workers["fresh"]
	assert.False(t, goneStillThere)
	assert.True(t, freshStillThere)
}

func TestRegistryRetainAppsDropsUnownedClusters(t *testing.T) {
	r := New(0)
	r.Cluster(1)
	r.Cluster(2)

	r.RetainApps([]uint64{1})

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok1 := r.clusters[1]
	_, ok2 := r.clusters[2]
	assert.True(t, ok1)
	assert.False(t, ok2)
}

func TestContainerInfosTrackedAcrossHeartbeats(t *testing.T) {
	c := newCluster(1)
	c.OnHeartbeat(Heartbeat{
		Address:         "w1",
		HeartbeatTimeMS: 1,
		Containers:      []DeployInfo{{ContainerID: "ctr-1", Status: "running"}},
	})

	infos := c.GetContainerInfos("ctr-1")
	require.Len(t, infos, 1)
	assert.Equal(t, "running", infos["w1"].Status)

	assert.Nil(t, c.GetContainerInfos("unknown"))
}
