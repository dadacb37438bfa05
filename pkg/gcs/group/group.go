// Package group implements the membership engine: component handling,
// state-UUID/state-message exchange, and quorum computation, grounded on
// original_source/gcs/src/gcs_group.{hpp,cpp} (spec §4.3).
package group

import (
	"github.com/groupcomm/gcs-core/pkg/gcs/defrag"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/node"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// Quorum is the outcome of one state-exchange round (spec §4.3.1).
type Quorum struct {
	Valid         bool
	Version       int
	Primary       bool
	GroupUUID     types.UUID
	ActID         types.Seqno
	ConfID        types.Seqno
	LastApplied   types.Seqno
	GcsProtoVer   int
	ReplProtoVer  int
	ApplProtoVer  int
	VotePolicy    int
}

// Group is one membership-engine instance: the local node's view of the
// component it currently belongs to, together with the in-flight state
// exchange (if any).
type Group struct {
	cache defrag.Cache

	State types.GroupState

	GroupUUID types.UUID
	PrimUUID  types.UUID
	PrimSeqno types.Seqno
	ActID     types.Seqno
	LastApplied types.Seqno

	MyIdx int
	MyID  types.MemberID

	MaxGcsProtoVer  int
	MaxReplProtoVer int
	MaxApplProtoVer int

	negotiatedGcsProtoVer  int
	negotiatedReplProtoVer int
	negotiatedApplProtoVer int

	VotePolicy int

	stateUUID types.UUID

	Nodes []*node.Node
	// stateMsgs mirrors Nodes by index; nil until that member's state
	// message has been recorded for the current exchange.
	stateMsgs []*types.StateMessage

	haveHistory bool
}

// New creates a membership engine with the given collaborator cache for
// newly created node defragmenters.
func New(myID types.MemberID, cache defrag.Cache, maxGcs, maxRepl, maxAppl int) *Group {
	return &Group{
		cache:           cache,
		State:           types.GroupNonPrimary,
		MyID:            myID,
		ActID:           types.SeqnoNone,
		LastApplied:     types.SeqnoIllegal,
		MaxGcsProtoVer:  maxGcs,
		MaxReplProtoVer: maxRepl,
		MaxApplProtoVer: maxAppl,
	}
}

// NodeByID returns the node record for id, or nil if it is not currently
// a member of this group.
func (g *Group) NodeByID(id types.MemberID) *node.Node {
	return g.nodeByID(id)
}

func (g *Group) nodeByID(id types.MemberID) *node.Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// HandleComponent applies a transport-level view change (spec §4.3
// "On component message in any state").
func (g *Group) HandleComponent(c types.Component) {
	newNodes := make([]*node.Node, 0, len(c.Members))
	for _, m := range c.Members {
		if existing := g.nodeByID(m.ID); existing != nil {
			existing.Segment = m.Segment
			newNodes = append(newNodes, existing)
			continue
		}
		n := node.New(m.ID, string(m.ID), g.cache)
		n.Segment = m.Segment
		newNodes = append(newNodes, n)
	}
	g.Nodes = newNodes
	g.MyIdx = c.MyIdx
	g.stateMsgs = make([]*types.StateMessage, len(newNodes))
	g.stateUUID = types.NilUUID

	if c.Primary && g.MyIdx >= 0 && g.MyIdx < len(g.Nodes) {
		g.Nodes[g.MyIdx].Bootstrap = c.Bootstrap
	}

	if !c.Primary {
		if g.MyIdx >= 0 && g.MyIdx < len(g.Nodes) {
			g.Nodes[g.MyIdx].UpdateStatus(types.NodeNonPrim)
		}
		g.State = types.GroupNonPrimary
		return
	}

	if len(g.Nodes) == 1 && !g.haveHistory {
		g.autoPromoteSingleton()
		return
	}

	g.State = types.GroupWaitStateUUID
}

func (g *Group) autoPromoteSingleton() {
	g.GroupUUID = types.NewUUID()
	g.PrimUUID = types.NewUUID()
	g.PrimSeqno = types.SeqnoNone
	g.Nodes[g.MyIdx].UpdateStatus(types.NodeJoined)
	g.Nodes[g.MyIdx].SetLastApplied(g.ActID)
	g.negotiatedGcsProtoVer = g.MaxGcsProtoVer
	g.negotiatedReplProtoVer = g.MaxReplProtoVer
	g.negotiatedApplProtoVer = g.MaxApplProtoVer
	g.haveHistory = true
	g.State = types.GroupPrimary
}

// HandleStateUUID applies a state-UUID message from the representative
// (index 0). Messages from any other index, or received outside
// WAIT_STATE_UUID, are ignored. It reports whether this call performed
// the WAIT_STATE_UUID -> WAIT_STATE_MSG transition, so a caller driving
// the reply (emitting its own state message) does so exactly once.
func (g *Group) HandleStateUUID(fromIdx int, uuid types.UUID) bool {
	if g.State != types.GroupWaitStateUUID || fromIdx != 0 {
		return false
	}
	g.stateUUID = uuid
	g.State = types.GroupWaitStateMsg
	return true
}

// StateUUID returns the state-exchange UUID of the in-flight round, or
// NilUUID if none is active.
func (g *Group) StateUUID() types.UUID {
	return g.stateUUID
}

// HandleStateMessage records one member's state-message contribution. If
// its embedded state-UUID does not match the current exchange, the
// message is discarded. When every member has reported, the quorum is
// computed and the group transitions to PRIMARY, NON_PRIMARY, or
// INCONSISTENT.
func (g *Group) HandleStateMessage(fromIdx int, msg *types.StateMessage) (Quorum, bool) {
	if g.State != types.GroupWaitStateMsg {
		return Quorum{}, false
	}
	if msg.StateUUID != g.stateUUID {
		return Quorum{}, false
	}
	if fromIdx < 0 || fromIdx >= len(g.stateMsgs) {
		return Quorum{}, false
	}
	g.stateMsgs[fromIdx] = msg

	for _, m := range g.stateMsgs {
		if m == nil {
			return Quorum{}, false
		}
	}

	q := g.computeQuorum()
	g.applyQuorum(q)
	return q, true
}

// computeQuorum runs the deterministic algorithm of spec §4.3.1 over the
// fully-populated g.stateMsgs.
func (g *Group) computeQuorum() Quorum {
	minVersion := g.stateMsgs[0].Version
	for _, m := range g.stateMsgs[1:] {
		if m.Version < minVersion {
			minVersion = m.Version
		}
	}

	rep, ok := g.chooseInheritRepresentative()
	if !ok {
		for _, m := range g.stateMsgs {
			if m.CurrentState >= types.NodeJoined {
				// Joined members exist but disagree on the group UUID.
				return Quorum{Valid: false}
			}
		}
		rep, ok = g.chooseRemergeRepresentative(false)
	}
	if !ok {
		rep, ok = g.chooseRemergeRepresentative(true)
	}
	if !ok {
		return Quorum{Valid: false}
	}

	confID := rep.PrimSeqno + 1
	actID := rep.Received

	gcsVer := minProto(g.stateMsgs, func(m *types.StateMessage) int { return m.GcsProtoVer })
	replVer := minProto(g.stateMsgs, func(m *types.StateMessage) int { return m.ReplProtoVer })
	applVer := minProto(g.stateMsgs, func(m *types.StateMessage) int { return m.ApplProtoVer })

	if minVersion >= 6 {
		gcsVer = maxInt(gcsVer, minNonZeroProto(g.stateMsgs, func(m *types.StateMessage) int { return m.PrevGcsProto }))
		replVer = maxInt(replVer, minNonZeroProto(g.stateMsgs, func(m *types.StateMessage) int { return m.PrevReplProto }))
		applVer = maxInt(applVer, minNonZeroProto(g.stateMsgs, func(m *types.StateMessage) int { return m.PrevApplProto }))
	}

	q := Quorum{
		Valid:        true,
		Version:      minVersion,
		Primary:      true,
		GroupUUID:    rep.GroupUUID,
		ActID:        actID,
		ConfID:       confID,
		LastApplied:  rep.LastApplied,
		GcsProtoVer:  gcsVer,
		ReplProtoVer: replVer,
		ApplProtoVer: applVer,
		VotePolicy:   rep.VotePolicy,
	}

	if g.haveHistory && actID < g.ActID {
		q.Primary = false
	}
	return q
}

// chooseInheritRepresentative implements the "inherit" path: among members
// whose current_state >= JOINED, the one with the highest Received,
// tie-broken by highest PrimSeqno. Disagreeing group-UUIDs among that set
// make quorum impossible.
func (g *Group) chooseInheritRepresentative() (*types.StateMessage, bool) {
	var best *types.StateMessage
	for _, m := range g.stateMsgs {
		if m.CurrentState < types.NodeJoined {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		if m.GroupUUID != best.GroupUUID {
			return nil, false
		}
		if betterRep(m, best) {
			best = m
		}
	}
	return best, best != nil
}

// chooseRemergeRepresentative implements the "remerge" (bootstrapOnly =
// false) and "bootstrap" (bootstrapOnly = true) paths: group candidates by
// (group-UUID, received, prim-seqno) whose last primary state was >=
// JOINED, requiring a single distinct non-nil state-UUID among them.
func (g *Group) chooseRemergeRepresentative(bootstrapOnly bool) (*types.StateMessage, bool) {
	var candidates []*types.StateMessage
	for _, m := range g.stateMsgs {
		if m.PrimState < types.NodeJoined {
			continue
		}
		if bootstrapOnly && !m.Bootstrap {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, false
	}

	seenUUID := types.NilUUID
	for _, c := range candidates {
		if c.StateUUID.IsNil() {
			continue
		}
		if seenUUID.IsNil() {
			seenUUID = c.StateUUID
		} else if seenUUID != c.StateUUID {
			return nil, false
		}
	}

	var best *types.StateMessage
	for _, c := range candidates {
		if best == nil || betterRep(c, best) {
			best = c
		}
	}
	return best, true
}

func betterRep(a, b *types.StateMessage) bool {
	if a.Received != b.Received {
		return a.Received > b.Received
	}
	return a.PrimSeqno > b.PrimSeqno
}

func minProto(msgs []*types.StateMessage, pick func(*types.StateMessage) int) int {
	min := pick(msgs[0])
	for _, m := range msgs[1:] {
		if v := pick(m); v < min {
			min = v
		}
	}
	return min
}

// minNonZeroProto mirrors minProto but ignores zero entries (members that
// never negotiated a previous protocol version), returning 0 if every
// entry is zero.
func minNonZeroProto(msgs []*types.StateMessage, pick func(*types.StateMessage) int) int {
	min := 0
	for _, m := range msgs {
		v := pick(m)
		if v == 0 {
			continue
		}
		if min == 0 || v < min {
			min = v
		}
	}
	return min
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// applyQuorum drives the group's own state and every node record's
// post-quorum update (spec §4.3.2).
func (g *Group) applyQuorum(q Quorum) {
	if !q.Valid {
		g.State = types.GroupNonPrimary
		return
	}
	if !q.Primary {
		g.State = types.GroupInconsistent
		g.demoteAll()
		return
	}

	myReceived := types.SeqnoNone
	if g.MyIdx >= 0 && g.MyIdx < len(g.stateMsgs) {
		myReceived = g.stateMsgs[g.MyIdx].Received
	}

	sameHistory := g.GroupUUID == q.GroupUUID && myReceived == q.ActID
	for i, n := range g.Nodes {
		if i == g.MyIdx && sameHistory {
			prev := g.stateMsgs[i].CurrentState
			if prev == types.NodeNonPrim {
				n.UpdateStatus(types.NodeJoined)
			} else {
				n.UpdateStatus(prev)
			}
			continue
		}
		if i == g.MyIdx {
			n.UpdateStatus(types.NodePrim)
		}
	}

	g.GroupUUID = q.GroupUUID
	g.ActID = q.ActID
	g.PrimSeqno = q.ConfID
	g.negotiatedGcsProtoVer = q.GcsProtoVer
	g.negotiatedReplProtoVer = q.ReplProtoVer
	g.negotiatedApplProtoVer = q.ApplProtoVer
	g.VotePolicy = q.VotePolicy
	g.haveHistory = true

	if q.GcsProtoVer >= 2 {
		g.LastApplied = q.LastApplied
	}

	g.State = types.GroupPrimary
}

func (g *Group) demoteAll() {
	for _, n := range g.Nodes {
		n.Reset(types.NodeNonPrim)
	}
}

// Representative reports whether this node is index 0, the sole emitter
// of the state-exchange UUID (spec "Invariants").
func (g *Group) Representative() bool {
	return g.MyIdx == 0
}

// EmitStateUUID generates a fresh state-exchange UUID for this round,
// called only by the representative.
func (g *Group) EmitStateUUID() (types.UUID, error) {
	if !g.Representative() {
		return types.NilUUID, gcserrors.ErrProtocol
	}
	u := types.NewUUID()
	g.stateUUID = u
	return u, nil
}

// NegotiatedVersions returns the protocol versions agreed at the last
// successful quorum.
func (g *Group) NegotiatedVersions() (gcs, repl, appl int) {
	return g.negotiatedGcsProtoVer, g.negotiatedReplProtoVer, g.negotiatedApplProtoVer
}
