package core

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// VoteValue is the stable hash of (GTID, code, payload) carried in a VOTE
// message (spec §4.3/"Voting"). Value 0 always means "agree/success".
type VoteValue uint64

// HashVote computes the vote value for a (GTID, code, payload) tuple. A
// request-vote (code == 0) always hashes to 0.
func HashVote(gtid types.GTID, code int64, payload []byte) VoteValue {
	if code == 0 {
		return 0
	}
	h := xxhash.New()
	var hdr [32]byte
	copy(hdr[0:16], gtid.UUID[:])
	binary.BigEndian.PutUint64(hdr[16:24], uint64(gtid.Seqno))
	binary.BigEndian.PutUint64(hdr[24:32], uint64(code))
	h.Write(hdr[:])
	h.Write(payload)
	return VoteValue(h.Sum64())
}

// voteRound tallies votes for one GTID as they arrive.
type voteRound struct {
	counts   map[VoteValue]int
	reported map[types.MemberID]bool
	decided  bool
	result   VoteValue
	waiters  []chan VoteValue
}

// voting is the per-core voting subsystem: an in-progress round per GTID
// plus a vote-history cache for completed rounds (spec "cached in the
// vote-history keyed by GTID for out-of-band retrieval").
type voting struct {
	mu      sync.Mutex
	rounds  map[types.GTID]*voteRound
	history map[types.GTID]VoteValue
}

func newVoting() *voting {
	return &voting{
		rounds:  make(map[types.GTID]*voteRound),
		history: make(map[types.GTID]VoteValue),
	}
}

// HistoryResult returns a previously decided vote for gtid, if cached.
func (v *voting) HistoryResult(gtid types.GTID) (VoteValue, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.history[gtid]
	return val, ok
}

// AwaitResult returns a channel resolving to gtid's decided vote value:
// immediately if it is already in history, otherwise once enough votes
// arrive via RecordVote. It never itself counts as a reported vote.
func (v *voting) AwaitResult(gtid types.GTID) chan VoteValue {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan VoteValue, 1)
	if val, ok := v.history[gtid]; ok {
		ch <- val
		return ch
	}
	r, ok := v.rounds[gtid]
	if !ok {
		r = &voteRound{counts: make(map[VoteValue]int), reported: make(map[types.MemberID]bool)}
		v.rounds[gtid] = r
	}
	if r.decided {
		ch <- r.result
		return ch
	}
	r.waiters = append(r.waiters, ch)
	return ch
}

// RecordImplicitZeroVote folds in a zero vote for member on gtid when a
// round for that exact GTID is already in progress (spec §8 scenario 6:
// a member reporting last_applied == gtid.Seqno for gtid's group-UUID,
// via a LAST message, counts as a zero vote without ever sending an
// explicit VOTE). It is a no-op if no round is active yet for gtid, so a
// LAST on an unrelated seqno never spuriously starts one.
func (v *voting) RecordImplicitZeroVote(gtid types.GTID, member types.MemberID, eligibleVoters int, votePolicy int) chan VoteValue {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan VoteValue, 1)
	r, ok := v.rounds[gtid]
	if !ok || r.reported[member] {
		return ch
	}
	if r.decided {
		ch <- r.result
		return ch
	}
	r.reported[member] = true
	r.counts[0]++
	r.waiters = append(r.waiters, ch)
	v.evaluateLocked(gtid, r, eligibleVoters, votePolicy)
	return ch
}

// RecordVote folds in one member's reported vote value for gtid and
// re-evaluates the decision rule against the current eligible-voter
// count. It returns a channel that resolves to the decided value (the
// caller may ignore it if it only wants to contribute a vote).
func (v *voting) RecordVote(gtid types.GTID, member types.MemberID, value VoteValue, eligibleVoters int, votePolicy int) chan VoteValue {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.rounds[gtid]
	if !ok {
		r = &voteRound{counts: make(map[VoteValue]int), reported: make(map[types.MemberID]bool)}
		v.rounds[gtid] = r
	}
	if !r.decided && !r.reported[member] {
		r.reported[member] = true
		r.counts[value]++
	}

	ch := make(chan VoteValue, 1)
	if r.decided {
		ch <- r.result
		return ch
	}
	r.waiters = append(r.waiters, ch)
	v.evaluateLocked(gtid, r, eligibleVoters, votePolicy)
	return ch
}

// evaluateLocked applies the three-step decision rule of spec "Voting".
// Must be called with v.mu held.
func (v *voting) evaluateLocked(gtid types.GTID, r *voteRound, eligibleVoters int, votePolicy int) {
	if r.decided {
		return
	}

	reported := len(r.reported)
	missing := eligibleVoters - reported
	if missing < 0 {
		missing = 0
	}

	if votePolicy >= 1 && r.counts[0] >= votePolicy {
		v.decide(gtid, r, 0)
		return
	}

	var maxVal VoteValue
	maxCount := -1
	for val, cnt := range r.counts {
		if cnt > maxCount || (cnt == maxCount && val < maxVal) {
			maxVal, maxCount = val, cnt
		}
	}
	if maxCount < 0 {
		return
	}
	if maxCount > missing+secondBest(r.counts, maxVal) {
		v.decide(gtid, r, maxVal)
		return
	}
	// Otherwise: wait for more votes.
}

// secondBest returns the highest vote count among values other than
// exclude, used to check whether the current leader can still be
// overtaken by the remaining missing voters.
func secondBest(counts map[VoteValue]int, exclude VoteValue) int {
	best := 0
	for val, cnt := range counts {
		if val == exclude {
			continue
		}
		if cnt > best {
			best = cnt
		}
	}
	return best
}

func (v *voting) decide(gtid types.GTID, r *voteRound, value VoteValue) {
	r.decided = true
	r.result = value
	v.history[gtid] = value
	for _, ch := range r.waiters {
		ch <- value
	}
	r.waiters = nil
	delete(v.rounds, gtid)
}
