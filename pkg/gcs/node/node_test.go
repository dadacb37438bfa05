package node

import (
	"testing"

	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

func TestNode_SetLastAppliedIsMonotonic(t *testing.T) {
	n := New("node-1", "alpha", nil)
	n.SetLastApplied(5)
	n.SetLastApplied(3) // stale report, must not regress
	if n.LastApplied() != 5 {
		t.Fatalf("expected last applied to stay at 5, got %d", n.LastApplied())
	}
	if n.CountLastApplied {
		t.Fatal("SetLastApplied must never itself flip CountLastApplied; only reaching SYNCED does")
	}
}

func TestNode_EligibleDonorRequiresSyncedNonArbitrator(t *testing.T) {
	n := New("node-1", "alpha", nil)
	n.Status = types.NodeSynced
	if !n.EligibleDonor() {
		t.Fatal("expected synced node to be donor-eligible")
	}
	n.Arbitrator = true
	if n.EligibleDonor() {
		t.Fatal("arbitrator must never be donor-eligible")
	}
	n.Arbitrator = false
	n.Status = types.NodeJoiner
	if n.EligibleDonor() {
		t.Fatal("a joiner must never be donor-eligible")
	}
}

func TestNode_ResetClearsDefragAndStatus(t *testing.T) {
	n := New("node-1", "alpha", nil)
	n.Status = types.NodeSynced
	n.CountLastApplied = true
	n.Reset(types.NodeNonPrim)
	if n.Status != types.NodeNonPrim {
		t.Fatalf("expected status reset to NON_PRIM, got %s", n.Status)
	}
	if n.CountLastApplied {
		t.Fatal("expected CountLastApplied cleared on reset until re-synced")
	}
}

func TestNode_JoinedSeqnoDefaultsToIllegal(t *testing.T) {
	n := New("node-1", "alpha", nil)
	if n.JoinedSeqno() != types.SeqnoIllegal {
		t.Fatalf("expected SeqnoIllegal before joining, got %d", n.JoinedSeqno())
	}
	n.SetJoinedSeqno(10)
	if n.JoinedSeqno() != 10 {
		t.Fatalf("expected joined seqno 10, got %d", n.JoinedSeqno())
	}
}
