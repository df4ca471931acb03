package main

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/eliasyaoyc/fastjob/internal/transport"
)

const bytesPerGB = 1 << 30

// heartbeatLoop sends one HeartBeat call per interval until ctx is
// cancelled, carrying real resource indicators gathered via gopsutil
// (spec.md §4.3 Indicators).
func heartbeatLoop(ctx context.Context, rep *reporter, appID uint64, selfAddr, tag string, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := &transport.HeartBeatRequest{
				Envelope:        transport.NewEnvelope(),
				AppID:           appID,
				WorkerAddress:   selfAddr,
				HeartbeatTimeMS: time.Now().UnixMilli(),
				Tag:             tag,
				Indicators:      gatherIndicators(),
			}
			if err := rep.heartbeat(ctx, req); err != nil {
				log.Warnw("heartbeat failed", "error", err)
			}
		}
	}
}

// gatherIndicators reads current JVM-equivalent (system-wide memory stands
// in for a real JVM's heap), CPU, and disk usage. Failures degrade to zero-value
// fields rather than skipping the heartbeat entirely.
func gatherIndicators() transport.WorkerIndicators {
	var ind transport.WorkerIndicators

	if v, err := mem.VirtualMemory(); err == nil {
		ind.JVMMax = float64(v.Total) / bytesPerGB
		ind.JVMUsed = float64(v.Used) / bytesPerGB
	}

	if cores, err := cpu.Counts(true); err == nil {
		ind.CPUProcessors = float64(cores)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		ind.CPULoad = percents[0] / 100
	}

	if u, err := disk.Usage("/"); err == nil {
		ind.DiskTotal = float64(u.Total) / bytesPerGB
		ind.DiskUsed = float64(u.Used) / bytesPerGB
	}

	return ind
}
