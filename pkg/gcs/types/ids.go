// Package types holds the wire-level identifiers and data types shared by
// every other package in the replication core: UUIDs, sequence numbers,
// GTIDs, member ids, message and action tags.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID is the 128-bit opaque identifier used for group history, primary
// configuration and state-exchange matching. NilUUID is the distinguished
// zero value.
type UUID uuid.UUID

// NilUUID is the distinguished "no value" UUID.
var NilUUID = UUID(uuid.Nil)

// NewUUID generates a fresh random UUID, used whenever a node starts a new
// group history (group-UUID) or a new state exchange (state-exchange UUID).
func NewUUID() UUID {
	return UUID(uuid.New())
}

// IsNil reports whether u is the distinguished nil value.
func (u UUID) IsNil() bool {
	return u == NilUUID
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// Seqno is a 64-bit signed monotonic sequence number.
type Seqno int64

const (
	// SeqnoIllegal is the sentinel for "no sequence number assigned".
	SeqnoIllegal Seqno = -1
	// SeqnoNone is the initial value before any action has been ordered.
	SeqnoNone Seqno = 0
)

// GTID identifies a globally ordered position: a group history plus a
// sequence number within it.
type GTID struct {
	UUID  UUID
	Seqno Seqno
}

// NilGTID is the distinguished "no position" GTID.
var NilGTID = GTID{UUID: NilUUID, Seqno: SeqnoIllegal}

func (g GTID) String() string {
	return fmt.Sprintf("%s:%d", g.UUID, g.Seqno)
}

// MemberID is the short printable id a transport assigns to a member,
// unique within the lifetime of a component. The wire format caps it at
// 40 bytes; Valid checks that limit, and component handling in this
// module does not call it.
type MemberID string

// MaxMemberIDLen is the maximum encoded length of a MemberID, mirroring
// GCS_COMP_MEMB_ID_MAX_LEN in the protocol this core reimplements.
const MaxMemberIDLen = 40

// Valid reports whether id respects the wire-size constraint.
func (id MemberID) Valid() bool {
	return len(id) > 0 && len(id) <= MaxMemberIDLen
}
