package core

import "github.com/groupcomm/gcs-core/pkg/gcs/types"

// recomputeCommitCut implements spec §4.4 "Commit-cut": the minimum
// last_applied across members that are counted and not arbitrators. It
// returns the new cut and whether it strictly advanced from before.
func (c *Core) recomputeCommitCut() (types.Seqno, bool) {
	var min types.Seqno = -1
	any := false
	for _, n := range c.grp.Nodes {
		if n.Arbitrator || !n.CountLastApplied {
			continue
		}
		la := n.LastApplied()
		if !any || la < min {
			min = la
			any = true
		}
	}
	if !any {
		return c.grp.LastApplied, false
	}

	gcsVer, _, _ := c.grp.NegotiatedVersions()
	if gcsVer >= 2 && min < c.grp.LastApplied {
		// Commit-cut is clamped non-decreasing at gcs-proto >= 2.
		return c.grp.LastApplied, false
	}

	advanced := min > c.grp.LastApplied
	c.grp.LastApplied = min
	return min, advanced
}
