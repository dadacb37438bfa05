// Package flowcontrol implements the two flow-control levels described in
// spec §4.5: primary-component queue-length flow control and the
// state-transfer byte/time throttle a JOINER applies to itself while
// catching up. Grounded on original_source/gcs/src/gcs_fc.{hpp,cpp}.
package flowcontrol

import (
	"math"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
)

// PrimaryFC tracks the per-connection recv-queue high/low watermarks and
// the group's accumulated stop/cont votes (gcs_group_t's fc bookkeeping).
type PrimaryFC struct {
	BaseLimit     int
	ResumeFactor  float64
	MasterSlave   bool
	MaxFCState    int // highest node state at which this node still issues STOP

	upper int
	lower int

	stopCount int
}

// Recompute derives upper/lower queue-length limits for a component of
// the given size, per spec §4.5 "upper = base_limit * sqrt(member_count)
// unless master_slave is set".
func (fc *PrimaryFC) Recompute(memberCount int) {
	factor := math.Sqrt(float64(memberCount))
	if fc.MasterSlave {
		factor = 1
	}
	fc.upper = int(float64(fc.BaseLimit) * factor)
	fc.lower = int(float64(fc.upper) * fc.ResumeFactor)
	fc.stopCount = 0
}

// Upper and Lower expose the current watermarks, e.g. for stats.
func (fc *PrimaryFC) Upper() int { return fc.upper }
func (fc *PrimaryFC) Lower() int { return fc.lower }

// ShouldStop reports whether queueLen (including any FC offset) has
// crossed the upper watermark while localState is still at or below
// MaxFCState, meaning this node should broadcast FC_STOP.
func (fc *PrimaryFC) ShouldStop(queueLen int, localState int) bool {
	return queueLen > fc.upper && localState <= fc.MaxFCState
}

// ShouldContinue reports whether queueLen has dropped back to the lower
// watermark, meaning this node should broadcast FC_CONT.
func (fc *PrimaryFC) ShouldContinue(queueLen int) bool {
	return queueLen <= fc.lower
}

// RecordStop accumulates one member's STOP vote. It reports whether this
// was the first STOP received, the point at which the local send monitor
// must actually pause.
func (fc *PrimaryFC) RecordStop() (firstStop bool) {
	fc.stopCount++
	return fc.stopCount == 1
}

// RecordCont removes one member's STOP vote. It reports whether this was
// the last outstanding STOP, the point at which the local send monitor
// may resume.
func (fc *PrimaryFC) RecordCont() (lastCont bool) {
	if fc.stopCount == 0 {
		return false
	}
	fc.stopCount--
	return fc.stopCount == 0
}

// Throttle meters state-transfer recv-queue growth while a node is a
// JOINER, per spec §4.5 "State-transfer FC" (gcs_fc_t's soft/hard/max
// parameters in the original, generalized from a fixed interval model to
// an accumulated-bytes model).
type Throttle struct {
	SoftLimit   int64   // bytes; above this, process() starts returning nonzero sleeps
	HardLimit   int64   // bytes; at or above this, process() returns ErrNoMemory
	MaxThrottle float64 // fraction of BaseInterval used as the ceiling sleep

	BaseInterval int64 // nanoseconds used to scale the throttle curve

	received int64
}

// Add accounts size additional queued bytes against the current total.
// Release is the counterpart that shrinks it.
func (th *Throttle) Add(size int64) {
	th.received += size
}

// Release accounts size bytes as drained from the recv queue.
func (th *Throttle) Release(size int64) {
	th.received -= size
	if th.received < 0 {
		th.received = 0
	}
}

// Process reports how long the caller should sleep before admitting size
// more bytes (0 if no throttling is needed yet), or gcserrors.ErrNoMemory
// once the hard limit is reached.
func (th *Throttle) Process(size int64) (sleepNanos int64, err error) {
	th.Add(size)

	if th.received >= th.HardLimit {
		return 0, gcserrors.ErrNoMemory
	}
	if th.received <= th.SoftLimit {
		return 0, nil
	}

	span := th.HardLimit - th.SoftLimit
	if span <= 0 {
		return 0, nil
	}
	fraction := float64(th.received-th.SoftLimit) / float64(span)
	if fraction > 1 {
		fraction = 1
	}
	sleep := fraction * th.MaxThrottle * float64(th.BaseInterval)
	return int64(sleep), nil
}
