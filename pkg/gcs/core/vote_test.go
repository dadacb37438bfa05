package core

import (
	"context"
	"testing"
	"time"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcslog"
	"github.com/groupcomm/gcs-core/pkg/gcs/group"
	"github.com/groupcomm/gcs-core/pkg/gcs/sendmonitor"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// buildThreeNodePrimary brings three Core instances to PRIMARY over a
// shared MemoryHub, draining each one's bootstrap CCHANGE before handing
// control back to the caller.
func buildThreeNodePrimary(t *testing.T, votePolicy int) (a, b, c *Core, hub *transport.MemoryHub) {
	t.Helper()
	hub = transport.NewMemoryHub(0)
	logger := gcslog.New(nil)

	open := func(id types.MemberID) *Core {
		tr := hub.Join(id)
		grp := group.New(id, nil, 6, 6, 6)
		co := New(Config{Transport: tr, Group: grp, SendMonitor: sendmonitor.New(4), Logger: logger})
		t.Cleanup(func() { _ = co.Close(); co.Destroy() })
		return co
	}
	a = open("a")
	b = open("b")
	c = open("c")

	comp := hub.Component(true, false)
	if err := hub.BroadcastComponent(comp); err != nil {
		t.Fatalf("broadcast component: %v", err)
	}
	waitPrimary(t, a)
	waitPrimary(t, b)
	waitPrimary(t, c)

	for _, co := range []*Core{a, b, c} {
		co.mu.Lock()
		co.grp.VotePolicy = votePolicy
		co.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, co := range []*Core{a, b, c} {
		if act, err := co.Recv(ctx); err != nil || act.Type != types.ActCChange {
			t.Fatalf("expected bootstrap CCHANGE, got %+v err=%v", act, err)
		}
	}
	return a, b, c, hub
}

// TestCore_LastAppliedCountsAsZeroVoteButAwaitsPolicy reproduces spec §8
// end-to-end scenario 6's sub-case: with vote-policy 2, one member
// reporting last_applied == gtid.Seqno via LAST counts as a zero vote.
// One explicit zero vote alone leaves the round undecided; the LAST
// report then supplies the second zero vote the policy needs.
func TestCore_LastAppliedCountsAsZeroVoteButAwaitsPolicy(t *testing.T) {
	a, b, c, _ := buildThreeNodePrimary(t, 2)

	gtid := types.GTID{UUID: a.grp.GroupUUID, Seqno: 100}

	// a casts the round-opening explicit zero vote.
	if err := a.SendVote(gtid, 0); err != nil {
		t.Fatalf("a send vote: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Every member (including a itself) observes a's vote; none decide yet
	// since only one of two required zero votes has been recorded.
	for _, co := range []*Core{a, b, c} {
		awaitNoDelivery(t, co, ctx, 100*time.Millisecond)
	}

	// b reports its last-applied position at the same seqno instead of
	// voting explicitly; this is the second zero vote (a's explicit vote
	// was the first), reaching the vote-policy threshold of 2 and
	// deciding the round at 0.
	if err := b.SendLast(gtid); err != nil {
		t.Fatalf("b send last: %v", err)
	}

	for _, co := range []*Core{a, b, c} {
		act := awaitDelivery(t, co, ctx)
		if act.Type != types.ActVote {
			t.Fatalf("expected VOTE delivery once policy threshold reached, got %+v", act)
		}
		if act.Seqno != 0 {
			t.Fatalf("expected decided value 0, got %d", act.Seqno)
		}
	}
}

// TestCore_LastAppliedIgnoredWithoutOpenRound checks that a LAST report
// never starts a vote round on its own: with no explicit vote ever cast
// for gtid, nothing is ever decided or delivered as a VOTE.
func TestCore_LastAppliedIgnoredWithoutOpenRound(t *testing.T) {
	a, b, _, _ := buildThreeNodePrimary(t, 1)

	gtid := types.GTID{UUID: a.grp.GroupUUID, Seqno: 100}
	if err := b.SendLast(gtid); err != nil {
		t.Fatalf("b send last: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	awaitNoDelivery(t, a, ctx, 100*time.Millisecond)
}

func awaitNoDelivery(t *testing.T, co *Core, ctx context.Context, d time.Duration) {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case a := <-co.deliveries:
		if a.Type == types.ActVote {
			t.Fatalf("unexpected premature VOTE delivery: %+v", a)
		}
	case <-timer.C:
	case <-ctx.Done():
	}
}

func awaitDelivery(t *testing.T, co *Core, ctx context.Context) types.Action {
	t.Helper()
	select {
	case a := <-co.deliveries:
		return a
	case <-ctx.Done():
		t.Fatal("delivery never arrived")
	}
	return types.Action{}
}
