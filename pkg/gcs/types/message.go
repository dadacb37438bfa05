package types

// MessageType tags a message as it travels across the Transport boundary
// (spec §6, "Message types on the wire").
type MessageType uint8

const (
	MsgAction MessageType = iota
	MsgLast
	MsgVote
	MsgJoin
	MsgSync
	MsgFlow
	MsgComponent
	MsgStateUUID
	MsgStateMsg
	MsgCausal
)

func (t MessageType) String() string {
	switch t {
	case MsgAction:
		return "ACTION"
	case MsgLast:
		return "LAST"
	case MsgVote:
		return "VOTE"
	case MsgJoin:
		return "JOIN"
	case MsgSync:
		return "SYNC"
	case MsgFlow:
		return "FLOW"
	case MsgComponent:
		return "COMPONENT"
	case MsgStateUUID:
		return "STATE_UUID"
	case MsgStateMsg:
		return "STATE_MSG"
	case MsgCausal:
		return "CAUSAL"
	default:
		return "UNKNOWN"
	}
}

// ActionType tags an action as delivered to the upper layer (spec §6,
// "Action types delivered to upper layer").
type ActionType uint8

const (
	ActWriteset ActionType = iota
	ActCommitCut
	ActStateReq
	ActCChange
	ActJoin
	ActSync
	ActFlow
	ActVote
	ActService
	ActError
	ActInconsistency
)

func (t ActionType) String() string {
	switch t {
	case ActWriteset:
		return "WRITESET"
	case ActCommitCut:
		return "COMMIT_CUT"
	case ActStateReq:
		return "STATE_REQ"
	case ActCChange:
		return "CCHANGE"
	case ActJoin:
		return "JOIN"
	case ActSync:
		return "SYNC"
	case ActFlow:
		return "FLOW"
	case ActVote:
		return "VOTE"
	case ActService:
		return "SERVICE"
	case ActError:
		return "ERROR"
	case ActInconsistency:
		return "INCONSISTENCY"
	default:
		return "UNKNOWN"
	}
}

// NodeState is a member's status within the group, spec §3's five-phase
// per-node lifecycle plus the two transitional SST roles.
type NodeState int

const (
	NodeNonPrim NodeState = iota
	NodePrim
	NodeJoiner
	NodeDonor
	NodeJoined
	NodeSynced
)

func (s NodeState) String() string {
	switch s {
	case NodeNonPrim:
		return "NON_PRIM"
	case NodePrim:
		return "PRIM"
	case NodeJoiner:
		return "JOINER"
	case NodeDonor:
		return "DONOR"
	case NodeJoined:
		return "JOINED"
	case NodeSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// GroupState is the membership engine's own state machine (spec §4.3).
type GroupState int

const (
	GroupNonPrimary GroupState = iota
	GroupWaitStateUUID
	GroupWaitStateMsg
	GroupPrimary
	GroupInconsistent
)

func (s GroupState) String() string {
	switch s {
	case GroupNonPrimary:
		return "NON_PRIMARY"
	case GroupWaitStateUUID:
		return "WAIT_STATE_UUID"
	case GroupWaitStateMsg:
		return "WAIT_STATE_MSG"
	case GroupPrimary:
		return "PRIMARY"
	case GroupInconsistent:
		return "INCONSISTENT"
	default:
		return "UNKNOWN"
	}
}

// CoreState is the replication core's own outer state (spec §4.4).
type CoreState int

const (
	CorePrimary CoreState = iota
	CoreExchange
	CoreNonPrimary
	CoreClosed
	CoreDestroyed
)

// ConnState is the lifecycle controller's application-visible state
// (spec §4.5).
type ConnState int

const (
	ConnDestroyed ConnState = iota
	ConnClosed
	ConnOpen
	ConnPrimary
	ConnJoiner
	ConnDonor
	ConnJoined
	ConnSynced
)

func (s ConnState) String() string {
	switch s {
	case ConnDestroyed:
		return "DESTROYED"
	case ConnClosed:
		return "CLOSED"
	case ConnOpen:
		return "OPEN"
	case ConnPrimary:
		return "PRIMARY"
	case ConnJoiner:
		return "JOINER"
	case ConnDonor:
		return "DONOR"
	case ConnJoined:
		return "JOINED"
	case ConnSynced:
		return "SYNCED"
	default:
		return "UNKNOWN"
	}
}

// Action is the unit of delivery to the upper layer (spec §6). Seqno holds
// either the assigned global sequence number or, for error deliveries, a
// negative error code.
type Action struct {
	Payload  []byte
	Type     ActionType
	Seqno    int64
	LocalSeq int64
}

// Code-message payload, shared by LAST / JOIN / SYNC (spec §6).
type CodeMessage struct {
	GTID GTID
	Code int64
}
