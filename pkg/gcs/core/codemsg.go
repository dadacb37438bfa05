package core

import (
	"encoding/binary"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// codeMessageSize is the wire size of a code-message payload (spec §6:
// 16-byte UUID + 8-byte seqno + 8-byte code), used by LAST, VOTE, JOIN,
// and SYNC.
const codeMessageSize = 32

func encodeCodeMessage(msg types.CodeMessage) []byte {
	buf := make([]byte, codeMessageSize)
	copy(buf[0:16], msg.GTID.UUID[:])
	binary.BigEndian.PutUint64(buf[16:24], uint64(msg.GTID.Seqno))
	binary.BigEndian.PutUint64(buf[24:32], uint64(msg.Code))
	return buf
}

func decodeCodeMessage(buf []byte) (types.CodeMessage, error) {
	if len(buf) < codeMessageSize {
		return types.CodeMessage{}, gcserrors.ErrProtocol
	}
	var uuid types.UUID
	copy(uuid[:], buf[0:16])
	seqno := types.Seqno(binary.BigEndian.Uint64(buf[16:24]))
	code := int64(binary.BigEndian.Uint64(buf[24:32]))
	return types.CodeMessage{GTID: types.GTID{UUID: uuid, Seqno: seqno}, Code: code}, nil
}
