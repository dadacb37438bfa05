package core

import (
	"encoding/binary"
	"encoding/json"

	"github.com/groupcomm/gcs-core/pkg/gcs/fragment"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// recvLoop is the core's single receive thread (spec §4.4 "Receive
// path" / §5 "Shared-resource policy": the membership engine is mutated
// only by the receive thread and by open/close under the send lock).
func (c *Core) recvLoop() {
	defer c.wg.Done()
	for {
		env, err := c.transport.Recv()
		if err != nil {
			c.drainPending(err)
			close(c.deliveries)
			return
		}
		c.dispatch(env)
	}
}

func (c *Core) dispatch(env transport.Envelope) {
	switch env.Type {
	case types.MsgAction:
		c.handleAction(env)
	case types.MsgLast:
		c.handleLast(env)
	case types.MsgVote:
		c.handleVote(env)
	case types.MsgJoin:
		c.handleCodeMessage(env, types.ActJoin, types.NodeJoined)
	case types.MsgSync:
		c.handleCodeMessage(env, types.ActSync, types.NodeSynced)
	case types.MsgFlow:
		c.handleFlow(env)
	case types.MsgComponent:
		c.handleComponent(env)
	case types.MsgStateUUID:
		c.handleStateUUID(env)
	case types.MsgStateMsg:
		c.handleStateMsg(env)
	case types.MsgCausal:
		// CAUSAL messages are dropped: this core sends none and wakes
		// no waiter for them.
	}
}

func (c *Core) handleAction(env transport.Envelope) {
	desc, err := fragment.Read(env.Data)
	if err != nil {
		c.log.Warnf("dropping malformed fragment from %s: %v", env.Sender, err)
		return
	}

	c.mu.Lock()
	n := c.grp.NodeByID(env.Sender)
	c.mu.Unlock()
	if n == nil {
		c.log.Warnf("fragment from unknown sender %s", env.Sender)
		return
	}

	local := c.grp.MyID == env.Sender
	payload, done, err := n.Defrag.HandleFragment(desc, local)
	if err != nil {
		c.log.Warnf("defragmenter protocol error from %s: %v", env.Sender, err)
		return
	}
	if !done {
		return
	}

	c.mu.Lock()
	c.grp.ActID++
	globalSeqno := c.grp.ActID
	c.mu.Unlock()

	c.localSeq++
	action := types.Action{
		Payload:  payload,
		Type:     types.ActionType(desc.ActionType),
		Seqno:    int64(globalSeqno),
		LocalSeq: c.localSeq,
	}

	if local {
		if waiter := c.popPendingFor(desc.ActionID); waiter != nil {
			waiter <- action
		}
	}
	c.deliver(action)
}

func (c *Core) handleLast(env transport.Envelope) {
	msg, err := decodeCodeMessage(env.Data)
	if err != nil {
		c.log.Warnf("malformed LAST from %s: %v", env.Sender, err)
		return
	}
	if msg.GTID.UUID != c.grp.GroupUUID {
		return
	}

	c.mu.Lock()
	n := c.grp.NodeByID(env.Sender)
	if n == nil {
		c.mu.Unlock()
		return
	}
	n.SetLastApplied(msg.GTID.Seqno)
	cut, advanced := c.recomputeCommitCut()
	eligible := 0
	for _, m := range c.grp.Nodes {
		if !m.Arbitrator {
			eligible++
		}
	}
	votePolicy := c.grp.VotePolicy
	c.mu.Unlock()

	// spec §8 scenario 6: a member reporting last_applied == gtid.Seqno
	// via LAST counts as a zero vote for that GTID without ever sending
	// an explicit VOTE, but only if a vote round for it is already open.
	select {
	case val := <-c.voting.RecordImplicitZeroVote(msg.GTID, env.Sender, eligible, votePolicy):
		c.localSeq++
		c.deliver(types.Action{
			Type:     types.ActVote,
			Seqno:    int64(val),
			LocalSeq: c.localSeq,
		})
	default:
	}

	if advanced {
		c.localSeq++
		c.deliver(types.Action{
			Type:     types.ActCommitCut,
			Seqno:    int64(cut),
			LocalSeq: c.localSeq,
		})
	}
}

func (c *Core) handleVote(env transport.Envelope) {
	if len(env.Data) < codeMessageSize {
		c.log.Warnf("malformed VOTE from %s", env.Sender)
		return
	}
	msg, err := decodeCodeMessage(env.Data)
	if err != nil {
		return
	}
	if msg.GTID.UUID != c.grp.GroupUUID {
		return
	}

	c.mu.Lock()
	eligible := 0
	for _, n := range c.grp.Nodes {
		if !n.Arbitrator {
			eligible++
		}
	}
	votePolicy := c.grp.VotePolicy
	c.mu.Unlock()

	result := c.voting.RecordVote(msg.GTID, env.Sender, VoteValue(msg.Code), eligible, votePolicy)
	select {
	case val := <-result:
		c.localSeq++
		c.deliver(types.Action{
			Type:     types.ActVote,
			Seqno:    int64(val),
			LocalSeq: c.localSeq,
		})
	default:
		// Not yet decided; nothing to deliver until more votes arrive.
	}
}

func (c *Core) handleCodeMessage(env transport.Envelope, actionType types.ActionType, status types.NodeState) {
	msg, err := decodeCodeMessage(env.Data)
	if err != nil {
		c.log.Warnf("malformed code-message from %s: %v", env.Sender, err)
		return
	}

	c.mu.Lock()
	n := c.grp.NodeByID(env.Sender)
	if n != nil {
		n.UpdateStatus(status)
		if status == types.NodeSynced {
			// spec §3 "count_last_applied": from now on this node's
			// last_applied is included in commit-cut calculation.
			n.CountLastApplied = true
		}
	}
	c.mu.Unlock()

	c.localSeq++
	payload, _ := json.Marshal(msg)
	c.deliver(types.Action{
		Type:     actionType,
		Payload:  payload,
		Seqno:    int64(msg.GTID.Seqno),
		LocalSeq: c.localSeq,
	})
}

func (c *Core) handleFlow(env transport.Envelope) {
	if len(env.Data) < 8 {
		return
	}
	confID := binary.BigEndian.Uint32(env.Data[0:4])
	stop := binary.BigEndian.Uint32(env.Data[4:8]) != 0

	c.mu.Lock()
	myConfID := uint32(c.grp.PrimSeqno)
	c.mu.Unlock()
	if confID != myConfID {
		return
	}

	c.localSeq++
	c.deliver(types.Action{
		Type:     types.ActFlow,
		Payload:  env.Data,
		Seqno:    boolToSeqno(stop),
		LocalSeq: c.localSeq,
	})
}

func boolToSeqno(stop bool) int64 {
	if stop {
		return 1
	}
	return 0
}

func (c *Core) handleComponent(env transport.Envelope) {
	var comp types.Component
	if err := transport.DecodeJSON(env.Data, &comp); err != nil {
		c.log.Warnf("malformed COMPONENT: %v", err)
		return
	}

	c.mu.Lock()
	c.setStateLocked(types.CoreExchange)
	c.grp.HandleComponent(comp)
	primary := c.grp.State == types.GroupPrimary
	nonPrimary := c.grp.State == types.GroupNonPrimary
	emitUUID := c.grp.State == types.GroupWaitStateUUID && c.grp.Representative()
	var stateUUID types.UUID
	var emitErr error
	if emitUUID {
		stateUUID, emitErr = c.grp.EmitStateUUID()
	}
	c.mu.Unlock()

	switch {
	case primary:
		c.setState(types.CorePrimary)
		c.deliverCChange()
	case nonPrimary:
		c.setState(types.CoreNonPrimary)
		// spec §8 scenario 3: a reconfiguration that drops primary status
		// abandons any local send still in flight. The receive path must
		// see the CCHANGE before the abandoned action's negative-seqno
		// completion, so deliver it first.
		c.deliverCChange()
		c.drainPending(gcserrors.ErrNotConnected)
	case emitUUID && emitErr == nil:
		// As the representative, we are the sole source of the
		// state-exchange UUID (spec §4.3 "Invariants"). Every member,
		// ourselves included, replies with its own state message once
		// it observes this come back over the wire.
		if err := c.sendStateUUID(stateUUID); err != nil {
			c.log.Warnf("sending state-exchange uuid: %v", err)
		}
	}
}

func (c *Core) setStateLocked(s types.CoreState) {
	c.state = s
}

// indexOfSenderLocked returns id's position in the current membership, or
// -1 if it is not a recognized member. Must be called with c.mu held.
func (c *Core) indexOfSenderLocked(id types.MemberID) int {
	for i, n := range c.grp.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (c *Core) handleStateUUID(env transport.Envelope) {
	if len(env.Data) < 16 {
		return
	}
	var uuid types.UUID
	copy(uuid[:], env.Data[0:16])

	c.mu.Lock()
	fromIdx := c.indexOfSenderLocked(env.Sender)
	advanced := c.grp.HandleStateUUID(fromIdx, uuid)
	var msg *types.StateMessage
	if advanced {
		msg = c.buildOwnStateMessageLocked()
	}
	c.mu.Unlock()

	if msg != nil {
		if err := c.sendStateMessage(msg); err != nil {
			c.log.Warnf("sending state message: %v", err)
		}
	}
}

func (c *Core) handleStateMsg(env transport.Envelope) {
	var msg types.StateMessage
	if err := transport.DecodeJSON(env.Data, &msg); err != nil {
		c.log.Warnf("malformed STATE_MSG from %s: %v", env.Sender, err)
		return
	}

	c.mu.Lock()
	fromIdx := c.indexOfSenderLocked(env.Sender)
	var primary bool
	if fromIdx >= 0 {
		if msg.Version >= 3 {
			c.grp.Nodes[fromIdx].Cached = msg.CachedSeqno
		}
		_, complete := c.grp.HandleStateMessage(fromIdx, &msg)
		primary = complete && c.grp.State == types.GroupPrimary
	}
	c.mu.Unlock()

	if primary {
		c.setState(types.CorePrimary)
		c.deliverCChange()
	}
}

func (c *Core) deliverCChange() {
	c.localSeq++
	c.deliver(types.Action{Type: types.ActCChange, LocalSeq: c.localSeq})
}

// sendStateUUID broadcasts the state-exchange UUID the representative
// just generated (spec §6 "Message types on the wire": STATE_UUID).
func (c *Core) sendStateUUID(u types.UUID) error {
	data := make([]byte, 16)
	copy(data, u[:])
	return c.transport.Send(transport.Envelope{Type: types.MsgStateUUID, Data: data})
}

// buildOwnStateMessageLocked assembles this node's contribution to the
// current state exchange from its own node record and the group's
// pre-exchange fields (spec §3 "State message" / §4.3 step 2). Must be
// called with c.mu held.
func (c *Core) buildOwnStateMessageLocked() *types.StateMessage {
	msg := &types.StateMessage{
		Version:      types.StateMessageVersion,
		GcsProtoVer:  c.grp.MaxGcsProtoVer,
		ReplProtoVer: c.grp.MaxReplProtoVer,
		ApplProtoVer: c.grp.MaxApplProtoVer,
		StateUUID:    c.grp.StateUUID(),
		GroupUUID:    c.grp.GroupUUID,
		PrimUUID:     c.grp.PrimUUID,
		Received:     c.grp.ActID,
		PrimSeqno:    c.grp.PrimSeqno,
		Name:         string(c.grp.MyID),
		LastApplied:  c.grp.LastApplied,
		VotePolicy:   c.grp.VotePolicy,
	}
	if c.grp.MyIdx >= 0 && c.grp.MyIdx < len(c.grp.Nodes) {
		me := c.grp.Nodes[c.grp.MyIdx]
		msg.CurrentState = me.Status
		msg.PrimState = me.Status
		msg.Bootstrap = me.Bootstrap
	}
	return msg
}

// sendStateMessage broadcasts msg as this node's reply to the current
// state exchange (spec §6: STATE_MSG).
func (c *Core) sendStateMessage(msg *types.StateMessage) error {
	data, err := transport.EncodeJSON(msg)
	if err != nil {
		return err
	}
	return c.transport.Send(transport.Envelope{Type: types.MsgStateMsg, Data: data})
}
