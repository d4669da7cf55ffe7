package plcmetrics

import (
	"context"
	"time"

	"github.com/mujin/goplc/internal/plccontroller"
	"github.com/mujin/goplc/internal/plcmemory"
)

// RunPoller periodically snapshots memory and the named controllers into
// the corresponding gauges, until ctx is canceled. Intended to be started
// once alongside the network endpoint.
func RunPoller(ctx context.Context, m *Metrics, memory *plcmemory.Memory, controllers map[string]*plccontroller.Controller, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetMemoryStats(memory.Len(), memory.ObserverCount())
			for name, c := range controllers {
				m.SetControllerStats(name, c.QueueDepth(), c.IsConnected())
			}
		}
	}
}
