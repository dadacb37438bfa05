package gcs

import (
	"github.com/groupcomm/gcs-core/pkg/gcs/node"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// istSafetyMarginCap is the safety-gap ceiling spec §4.5/"Supplemented
// features" names ("capped at 1 MiB"), matching
// original_source/gcs/src/gcs_group.cpp's group_find_ist_donor.
const istSafetyMarginCap = 1 << 20

// selectDonor implements spec §5's segment-aware, incremental-transfer-
// preferring donor selection (recovered from
// original_source/gcs/src/gcs_group.cpp's donor-selection pass over
// group_find_ist_donor/group_find_sst_donor). Preference order:
//  1. an eligible donor in the joiner's own segment that can serve IST
//     (its cached range covers ist_gtid with a safety margin);
//  2. any eligible donor in the joiner's own segment;
//  3. an eligible donor in another segment that can serve IST;
//  4. any eligible donor elsewhere.
// requestedName, if non-empty, pins the search to that single member.
// confSeqno is the group's current confirmed action id, used to size the
// safety margin the same way for every candidate.
func selectDonor(nodes []*node.Node, joinerSegment int, cachedSeqno types.Seqno, requestedName types.MemberID, confSeqno types.Seqno) (*node.Node, bool) {
	if requestedName != "" {
		for _, n := range nodes {
			if n.ID == requestedName && n.EligibleDonor() {
				return n, true
			}
		}
		return nil, false
	}

	canIST := func(n *node.Node) bool {
		if cachedSeqno == types.SeqnoIllegal || n.Cached == types.SeqnoIllegal {
			return false
		}
		// The donor's cached range must reach back far enough to cover
		// ist_gtid, with a safety margin proportional to how much history
		// the donor retains relative to the group's confirmed position.
		margin := (confSeqno - n.Cached) / 128
		if margin > istSafetyMarginCap {
			margin = istSafetyMarginCap
		}
		if margin < 0 {
			margin = 0
		}
		return n.Cached+margin <= cachedSeqno
	}

	var sameSegmentIST, sameSegment, otherIST, other *node.Node
	for _, n := range nodes {
		if !n.EligibleDonor() {
			continue
		}
		inSegment := n.Segment == joinerSegment
		switch {
		case inSegment && canIST(n) && sameSegmentIST == nil:
			sameSegmentIST = n
		case inSegment && sameSegment == nil:
			sameSegment = n
		case !inSegment && canIST(n) && otherIST == nil:
			otherIST = n
		case !inSegment && other == nil:
			other = n
		}
	}

	for _, candidate := range []*node.Node{sameSegmentIST, sameSegment, otherIST, other} {
		if candidate != nil {
			return candidate, true
		}
	}
	return nil, false
}
