package gcs

import (
	"github.com/groupcomm/gcs-core/pkg/gcs/sendmonitor"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// Stats is a point-in-time snapshot of the controller's counters (spec
// §6 "get_stats"), recovering gcs_get_stats's recv-queue length, send
// monitor occupancy, and flow-control counters as one Go struct instead
// of a C out-parameter block.
type Stats struct {
	State        types.ConnState
	RecvQueueLen int
	SendMonitor  sendmonitor.Stats
	FCUpper      int
	FCLower      int
	FCStopSent   uint64
	FCContSent   uint64
	FCReceived   uint64
	CommitCut    types.Seqno
	NodeStatuses map[types.MemberID]types.NodeState
}

// GetStats returns a snapshot of the controller's current counters.
func (c *Controller) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	grp := c.core.Group()
	statuses := make(map[types.MemberID]types.NodeState, len(grp.Nodes))
	for _, n := range grp.Nodes {
		statuses[n.ID] = n.Status
	}

	return Stats{
		State:        c.state,
		RecvQueueLen: c.core.QueueLen(),
		SendMonitor:  c.core.SendMonitor().StatsSnapshot(),
		FCUpper:      c.fc.Upper(),
		FCLower:      c.fc.Lower(),
		FCStopSent:   c.fcStopSent,
		FCContSent:   c.fcContSent,
		FCReceived:   c.fcReceived,
		CommitCut:    grp.LastApplied,
		NodeStatuses: statuses,
	}
}

// FlushStats zeroes the cumulative counters without disturbing any
// in-flight state (spec §6 "flush_stats"; gcs_flush_stats).
func (c *Controller) FlushStats() {
	c.core.SendMonitor().ResetStats()
	c.mu.Lock()
	c.fcStopSent = 0
	c.fcContSent = 0
	c.fcReceived = 0
	c.mu.Unlock()
}
