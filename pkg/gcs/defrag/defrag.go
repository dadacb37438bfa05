// Package defrag implements the per-(sender, channel) reassembly buffer
// described in spec §4.2, grounded on
// original_source/gcs/src/gcs_defrag.{hpp,cpp} (gcs_defrag_handle_frag).
package defrag

import (
	"github.com/groupcomm/gcs-core/pkg/gcs/fragment"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// Cache is the storage-cache collaborator used as a zero-copy sink for
// reassembled action payloads (spec §1 "out of scope... a malloc/free
// interface is assumed", §4.2 "Buffer ownership"). When nil, the
// Defragmenter falls back to plain heap allocation.
type Cache interface {
	Malloc(size int) []byte
	Free(buf []byte)
}

// Defragmenter reassembles fragments from a single (sender, channel) pair
// into complete actions.
type Defragmenter struct {
	cache    Cache
	actionID types.Seqno // df.sent_id in the original: action currently assembling
	buf      []byte       // df.head/tail/size: allocated to the declared action size
	received int          // df.received: bytes appended so far
	fragNo   uint32        // df.frag_no: last fragment number accepted
	reset    bool          // df.reset
	started  bool          // whether a first fragment has been accepted
}

// New creates a Defragmenter. cache may be nil, in which case buffers are
// heap-allocated.
func New(cache Cache) *Defragmenter {
	return &Defragmenter{cache: cache, actionID: types.SeqnoIllegal}
}

func (d *Defragmenter) alloc(size int) []byte {
	if d.cache != nil {
		return d.cache.Malloc(size)
	}
	return make([]byte, size)
}

func (d *Defragmenter) free() {
	if d.started && d.buf != nil && d.cache != nil {
		d.cache.Free(d.buf)
	}
	d.buf = nil
	d.received = 0
	d.fragNo = 0
	d.started = false
}

// forget deassociates the buffer without deallocating it (gcs_defrag_forget
// in the original). It is used when a completed action is handed to the
// caller and when a reset discards the in-progress action; the next
// action always gets a freshly allocated buffer.
func (d *Defragmenter) forget() {
	d.buf = nil
	d.received = 0
	d.fragNo = 0
	d.started = false
}

// Reset marks the in-progress action (if any) to be silently discarded on
// its next fragment (spec §4.2 "Reset"), used by the owning node record on
// configuration change.
func (d *Defragmenter) Reset() {
	d.reset = true
}

// HandleFragment processes one parsed fragment. local indicates whether
// the fragment originates from this node's own send. On completion it
// returns the reassembled action bytes and true; otherwise (nil, false).
func (d *Defragmenter) HandleFragment(desc *fragment.Descriptor, local bool) ([]byte, bool, error) {
	actionID := types.Seqno(desc.ActionID)

	if !d.started {
		if desc.FragmentNo != 0 {
			if !local && d.reset {
				// A remote non-first fragment arriving while we're mid-reset
				// is expected: the sender's earlier fragments for this
				// action were sent before our reset and are simply never
				// going to be completed locally. Ignore it silently.
				return nil, false, nil
			}
			return nil, false, gcserrors.ErrProtocol
		}
		return d.beginAction(desc)
	}

	if d.reset {
		// Discard the in-progress action silently and attempt to start a
		// new one with this fragment, per spec §4.2 "Reset".
		d.forget()
		if desc.FragmentNo != 0 {
			if !local {
				return nil, false, nil
			}
			return nil, false, gcserrors.ErrProtocol
		}
		return d.beginAction(desc)
	}

	if actionID != d.actionID {
		return nil, false, gcserrors.ErrProtocol
	}

	if desc.FragmentNo < d.fragNo+1 {
		// Strictly earlier fragment number with the same action id: a
		// tolerated duplicate, skipped without advancing state.
		return nil, false, nil
	}
	if desc.FragmentNo != d.fragNo+1 {
		return nil, false, gcserrors.ErrProtocol
	}

	return d.appendAndMaybeComplete(desc)
}

func (d *Defragmenter) beginAction(desc *fragment.Descriptor) ([]byte, bool, error) {
	size := int(desc.ActionSize)
	if d.buf == nil || len(d.buf) != size {
		if d.buf != nil {
			d.free()
		}
		d.buf = d.alloc(size)
	}
	d.actionID = types.Seqno(desc.ActionID)
	d.received = 0
	d.fragNo = 0
	d.reset = false
	d.started = true
	return d.appendAndMaybeComplete(desc)
}

func (d *Defragmenter) appendAndMaybeComplete(desc *fragment.Descriptor) ([]byte, bool, error) {
	n := copy(d.buf[d.received:], desc.Payload)
	d.received += n
	d.fragNo = desc.FragmentNo

	if d.received == len(d.buf) {
		out := d.buf
		d.forget()
		return out, true, nil
	}
	return nil, false, nil
}

// Free releases any in-progress buffer, used for lost-node cleanup
// (gcs_defrag_free in the original).
func (d *Defragmenter) Free() {
	d.free()
	d.actionID = types.SeqnoIllegal
	d.reset = false
}

// InProgress reports whether an action is currently being assembled.
func (d *Defragmenter) InProgress() bool {
	return d.started
}
