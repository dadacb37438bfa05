package types

// ComponentMember is one entry of the ordered member list carried by a
// COMPONENT message (spec §4.3).
type ComponentMember struct {
	ID      MemberID
	Segment int
}

// Component describes a transport-level view change: the new set of
// connected members plus whether it has quorum.
type Component struct {
	Primary   bool
	Bootstrap bool
	MyIdx     int
	Members   []ComponentMember
}

// StateMessage is one member's contribution to a state exchange (spec §4.3,
// §6 "State message layout"). Fields beyond Version are only meaningful up
// to the version the sender declared; readers must tolerate trailing zero
// values on older senders.
type StateMessage struct {
	Version       int
	Flags         uint8
	GcsProtoVer   int
	ReplProtoVer  int
	ApplProtoVer  int
	JoinedCount   int
	StateUUID     UUID
	GroupUUID     UUID
	PrimUUID      UUID
	Received      Seqno
	PrimSeqno     Seqno
	Name          string
	IncomingAddr  string
	CachedSeqno   Seqno // v >= 3
	DesyncCount   int   // v >= 4
	LastApplied   Seqno // v >= 5
	VoteSeqno     Seqno // v >= 5
	VoteResult    uint64 // v >= 5
	VotePolicy    int    // v >= 5
	PrevGcsProto  int    // v >= 6
	PrevReplProto int    // v >= 6
	PrevApplProto int    // v >= 6
	CurrentState  NodeState
	PrimState     NodeState
	Bootstrap     bool
}

// StateMessageVersion is the highest state-message version this build
// writes; readers accept up to this version and ignore anything newer.
const StateMessageVersion = 6
