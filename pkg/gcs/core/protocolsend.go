package core

import (
	"encoding/binary"

	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// SendLast broadcasts a LAST message reporting gtid as the local
// last-applied position (spec §6 "LAST"), consumed by every member's
// commit-cut aggregation including this node's own.
func (c *Core) SendLast(gtid types.GTID) error {
	return c.transport.Send(transport.Envelope{
		Type: types.MsgLast,
		Data: encodeCodeMessage(types.CodeMessage{GTID: gtid}),
	})
}

// SendJoin broadcasts a JOIN message, used by the lifecycle controller
// once a joiner has finished catching up to gtid.
func (c *Core) SendJoin(gtid types.GTID, code int64) error {
	return c.transport.Send(transport.Envelope{
		Type: types.MsgJoin,
		Data: encodeCodeMessage(types.CodeMessage{GTID: gtid, Code: code}),
	})
}

// SendSync broadcasts a SYNC message, transitioning this node to SYNCED
// in every member's node record.
func (c *Core) SendSync(gtid types.GTID) error {
	return c.transport.Send(transport.Envelope{
		Type: types.MsgSync,
		Data: encodeCodeMessage(types.CodeMessage{GTID: gtid}),
	})
}

// SendVote broadcasts this node's vote value for gtid (spec "Voting").
func (c *Core) SendVote(gtid types.GTID, value VoteValue) error {
	return c.transport.Send(transport.Envelope{
		Type: types.MsgVote,
		Data: encodeCodeMessage(types.CodeMessage{GTID: gtid, Code: int64(value)}),
	})
}

// SendFlow broadcasts this node's flow-control vote for the given
// primary-configuration id (spec §4.5 "Primary-component FC").
func (c *Core) SendFlow(confID uint32, stop bool) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], confID)
	var s uint32
	if stop {
		s = 1
	}
	binary.BigEndian.PutUint32(data[4:8], s)
	return c.transport.Send(transport.Envelope{Type: types.MsgFlow, Data: data})
}

// AwaitVote returns a channel that resolves to gtid's decided vote value,
// registering a waiter if the round is still in progress or resolving
// immediately from history if it already completed.
func (c *Core) AwaitVote(gtid types.GTID) chan VoteValue {
	return c.voting.AwaitResult(gtid)
}
