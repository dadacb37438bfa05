// Package fragment implements the fixed 20-byte fragment header codec
// (spec §4.1, §6 "Fragment header layout"), grounded on
// original_source/gcs/src/gcs_act_proto.{hpp,cpp} (gcs_act_proto_write/
// gcs_act_proto_read/gcs_act_proto_inc).
package fragment

import (
	"encoding/binary"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// HeaderSize is the fixed fragment header length in bytes.
const HeaderSize = 20

// MaxSupportedVersion is the highest fragment protocol version this build
// understands (mirrors GCS_PROTO_MAX = 2 in gcs_act_proto.hpp, generalized
// to this core's own protocol numbering).
const MaxSupportedVersion = 2

// MaxActionSize is the absolute ceiling on a declared action size: the
// encoding uses a 32-bit field, so the true limit is 2^32-1, but one byte
// is reserved to keep a size of exactly that value (which could collide
// with "unset") from being mistaken for an encoding error.
const MaxActionSize = (1 << 32) - 2

// Descriptor is the parsed representation of one fragment header plus its
// trailing payload slice.
type Descriptor struct {
	ProtoVersion uint8
	ActionID     int64 // 7 bytes on the wire, big-endian
	ActionSize   uint32
	FragmentNo   uint32
	ActionType   uint8
	Payload      []byte
}

// Write serializes desc into buf, which must be at least HeaderSize plus
// len(desc.Payload) bytes. It returns the number of bytes written.
func Write(desc *Descriptor, buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, gcserrors.ErrMessageTooBig
	}
	if desc.ActionSize > MaxActionSize {
		return 0, gcserrors.ErrMessageTooBig
	}
	if desc.ActionID < 0 || desc.ActionID > (1<<56)-1 {
		return 0, gcserrors.ErrProtocol
	}
	if len(buf) < HeaderSize+len(desc.Payload) {
		return 0, gcserrors.ErrMessageTooBig
	}

	buf[0] = desc.ProtoVersion

	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(desc.ActionID))
	// Bytes 1-7 carry the action id; byte 0 of idBuf (the high byte of the
	// 8-byte encoding) is dropped since it is shared with ProtoVersion on
	// the wire, as spec §3 "Fragment header" describes.
	copy(buf[1:8], idBuf[1:8])

	binary.BigEndian.PutUint32(buf[8:12], desc.ActionSize)
	binary.BigEndian.PutUint32(buf[12:16], desc.FragmentNo)
	buf[16] = desc.ActionType
	buf[17], buf[18], buf[19] = 0, 0, 0

	n := copy(buf[HeaderSize:], desc.Payload)
	return HeaderSize + n, nil
}

// Read parses buf's leading HeaderSize bytes into a Descriptor. The
// returned Descriptor's Payload aliases buf's trailing bytes (no copy).
func Read(buf []byte) (*Descriptor, error) {
	if len(buf) < HeaderSize {
		return nil, gcserrors.ErrProtocol
	}

	version := buf[0]
	if version > MaxSupportedVersion {
		return nil, gcserrors.ErrUnsupportedProtocol
	}

	var idBuf [8]byte
	copy(idBuf[1:8], buf[1:8])
	actionID := int64(binary.BigEndian.Uint64(idBuf[:]))

	actionSize := binary.BigEndian.Uint32(buf[8:12])
	if actionSize > MaxActionSize {
		return nil, gcserrors.ErrMessageTooBig
	}

	fragNo := binary.BigEndian.Uint32(buf[12:16])
	actType := buf[16]

	return &Descriptor{
		ProtoVersion: version,
		ActionID:     actionID,
		ActionSize:   actionSize,
		FragmentNo:   fragNo,
		ActionType:   actType,
		Payload:      buf[HeaderSize:],
	}, nil
}

// IncrementFragmentNo rewrites only the 4-byte fragment-number field of an
// already-written header buffer in place, letting a sender reuse one
// header buffer while iterating fragments of the same action (spec §4.1).
func IncrementFragmentNo(buf []byte) (uint32, error) {
	if len(buf) < HeaderSize {
		return 0, gcserrors.ErrProtocol
	}
	n := binary.BigEndian.Uint32(buf[12:16]) + 1
	binary.BigEndian.PutUint32(buf[12:16], n)
	return n, nil
}

// GTIDFromAction builds an identifying GTID for logging/error purposes out
// of a group UUID and a descriptor's action id.
func GTIDFromAction(group types.UUID, desc *Descriptor) types.GTID {
	return types.GTID{UUID: group, Seqno: types.Seqno(desc.ActionID)}
}
