// Package node holds the per-member bookkeeping the membership engine
// keeps for every node currently in the component, grounded on
// original_source/gcs/src/gcs_node.{hpp,cpp}.
package node

import (
	"github.com/groupcomm/gcs-core/pkg/gcs/defrag"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// Node is one member's record as tracked by the local membership engine.
// Every member of a Component gets one, including the local node itself.
type Node struct {
	ID       types.MemberID
	Name     string
	Incoming string // address/name advertised for state transfer, gcs_node_t.inc_addr

	Status types.NodeState

	// Arbitrator is true for witness-only members that never apply
	// actions and are never eligible donors (spec §5 "Supplemented
	// features: Arbitrator nodes").
	Arbitrator bool
	// Bootstrap is true when this node was started with an explicit
	// "you are the primary component of one" flag, used to break
	// a quorum tie with no positive votes (gcs_node_t.bootstrap).
	Bootstrap bool
	// Segment groups nodes for segment-aware donor preference (spec §5
	// supplemented features): state transfer prefers a donor in the
	// joiner's own segment before crossing segments.
	Segment int

	ProtocolVersion uint8

	lastApplied    types.Seqno // gcs_node_t.last_applied
	joinedSeqno    types.Seqno // seqno at which this node went JOINED
	receivedAction types.Seqno

	// Cached is the lowest seqno still available from this member for
	// incremental state-transfer (spec §3 "Node record": `cached`,
	// gcs_node_t.cached read off the member's own STATE_MSG). SeqnoIllegal
	// until a state message carrying it has been recorded.
	Cached types.Seqno

	// Each node carries two defragmenters, mirroring gcs_node_t's two
	// gcs_defrag_t members. The receive path in package core reassembles
	// every ACTION fragment through Defrag; DefragOther is only reset
	// alongside it.
	Defrag      *defrag.Defragmenter
	DefragOther *defrag.Defragmenter

	// CountLastApplied reports whether this node's last-applied position
	// is included in commit-cut calculation (gcs_node_t.count_last_applied
	// in the original): true once the node reaches SYNCED, false
	// while it is still JOINER/PRIM and has nothing meaningful to report.
	CountLastApplied bool
}

// New creates a Node record for the given member.
func New(id types.MemberID, name string, cache defrag.Cache) *Node {
	return &Node{
		ID:          id,
		Name:        name,
		Status:      types.NodeNonPrim,
		lastApplied: types.SeqnoNone,
		joinedSeqno: types.SeqnoIllegal,
		Cached:      types.SeqnoIllegal,
		Defrag:      defrag.New(cache),
		DefragOther: defrag.New(cache),
	}
}

// SetLastApplied records the seqno up to which this node has applied
// actions, as reported by its own LAST message (gcs_node_set_last_applied).
func (n *Node) SetLastApplied(seqno types.Seqno) {
	if seqno > n.lastApplied {
		n.lastApplied = seqno
	}
}

// LastApplied returns the last-applied seqno this node has reported, or
// SeqnoNone if it has not reported one yet.
func (n *Node) LastApplied() types.Seqno {
	return n.lastApplied
}

// UpdateStatus transitions the node's lifecycle state (spec §3's five-phase
// cycle, gcs_node_update_status). It never validates the transition itself;
// the membership engine is responsible for only requesting legal ones.
func (n *Node) UpdateStatus(status types.NodeState) {
	n.Status = status
}

// SetJoinedSeqno records the seqno at which this node completed state
// transfer and became JOINED. The commit-cut computation does not
// consult it.
func (n *Node) SetJoinedSeqno(seqno types.Seqno) {
	n.joinedSeqno = seqno
}

// JoinedSeqno returns the seqno recorded by SetJoinedSeqno, or
// SeqnoIllegal if the node has never completed state transfer.
func (n *Node) JoinedSeqno() types.Seqno {
	return n.joinedSeqno
}

// Reset marks both defragmenters for reset (an in-progress action is
// discarded on its next fragment), sets the node to the given status and
// clears CountLastApplied (gcs_node_reset semantics). Component changes
// do not call it; the membership engine calls it when demoting every
// node record at once.
func (n *Node) Reset(status types.NodeState) {
	n.Defrag.Reset()
	n.DefragOther.Reset()
	n.Status = status
	n.CountLastApplied = false
}

// EligibleDonor reports whether this node can currently serve as a state
// transfer donor: synced, not an arbitrator, and not itself mid-transfer.
func (n *Node) EligibleDonor() bool {
	return !n.Arbitrator && n.Status == types.NodeSynced
}
