package group

import (
	"testing"

	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

func TestGroup_SingletonBootstrapAutoPromotes(t *testing.T) {
	g := New("node-1", nil, 2, 2, 2)
	g.HandleComponent(types.Component{
		Primary:   true,
		Bootstrap: true,
		MyIdx:     0,
		Members:   []types.ComponentMember{{ID: "node-1"}},
	})
	if g.State != types.GroupPrimary {
		t.Fatalf("expected PRIMARY after singleton auto-promote, got %s", g.State)
	}
	if g.Nodes[0].Status != types.NodeJoined {
		t.Fatalf("expected sole member JOINED, got %s", g.Nodes[0].Status)
	}
}

func TestGroup_NonPrimaryComponentSkipsExchange(t *testing.T) {
	g := New("node-1", nil, 2, 2, 2)
	g.HandleComponent(types.Component{
		Primary: false,
		MyIdx:   0,
		Members: []types.ComponentMember{{ID: "node-1"}, {ID: "node-2"}},
	})
	if g.State != types.GroupNonPrimary {
		t.Fatalf("expected NON_PRIMARY, got %s", g.State)
	}
	if g.Nodes[0].Status != types.NodeNonPrim {
		t.Fatalf("expected own node NON_PRIM, got %s", g.Nodes[0].Status)
	}
}

func TestGroup_TwoMemberExchangeReachesPrimary(t *testing.T) {
	g := New("node-1", nil, 2, 2, 2)
	g.HandleComponent(types.Component{
		Primary: true,
		MyIdx:   0,
		Members: []types.ComponentMember{{ID: "node-1"}, {ID: "node-2"}},
	})
	if g.State != types.GroupWaitStateUUID {
		t.Fatalf("expected WAIT_STATE_UUID, got %s", g.State)
	}

	uuid, err := g.EmitStateUUID()
	if err != nil {
		t.Fatalf("emit state uuid: %v", err)
	}
	g.HandleStateUUID(0, uuid)
	if g.State != types.GroupWaitStateMsg {
		t.Fatalf("expected WAIT_STATE_MSG, got %s", g.State)
	}

	groupUUID := types.NewUUID()
	msg0 := &types.StateMessage{
		Version: 6, StateUUID: uuid, GroupUUID: groupUUID,
		Received: 10, PrimSeqno: 3, CurrentState: types.NodeSynced, PrimState: types.NodeSynced,
		GcsProtoVer: 2, ReplProtoVer: 2, ApplProtoVer: 2,
	}
	msg1 := &types.StateMessage{
		Version: 6, StateUUID: uuid, GroupUUID: groupUUID,
		Received: 10, PrimSeqno: 3, CurrentState: types.NodeSynced, PrimState: types.NodeSynced,
		GcsProtoVer: 2, ReplProtoVer: 2, ApplProtoVer: 2,
	}

	if _, complete := g.HandleStateMessage(0, msg0); complete {
		t.Fatal("expected quorum incomplete after only one of two messages")
	}
	q, complete := g.HandleStateMessage(1, msg1)
	if !complete {
		t.Fatal("expected quorum complete after both messages recorded")
	}
	if !q.Valid || !q.Primary {
		t.Fatalf("expected valid primary quorum, got %+v", q)
	}
	if g.State != types.GroupPrimary {
		t.Fatalf("expected PRIMARY after quorum, got %s", g.State)
	}
	if g.ActID != 10 {
		t.Fatalf("expected act_id 10, got %d", g.ActID)
	}
}

func TestGroup_DisagreeingGroupUUIDsAmongJoinedIsImpossible(t *testing.T) {
	g := New("node-1", nil, 2, 2, 2)
	g.HandleComponent(types.Component{
		Primary: true,
		MyIdx:   0,
		Members: []types.ComponentMember{{ID: "node-1"}, {ID: "node-2"}},
	})
	uuid, _ := g.EmitStateUUID()
	g.HandleStateUUID(0, uuid)

	msg0 := &types.StateMessage{
		Version: 6, StateUUID: uuid, GroupUUID: types.NewUUID(),
		Received: 10, CurrentState: types.NodeSynced, PrimState: types.NodeSynced,
	}
	msg1 := &types.StateMessage{
		Version: 6, StateUUID: uuid, GroupUUID: types.NewUUID(),
		Received: 10, CurrentState: types.NodeSynced, PrimState: types.NodeSynced,
	}

	g.HandleStateMessage(0, msg0)
	q, complete := g.HandleStateMessage(1, msg1)
	if !complete {
		t.Fatal("expected quorum round to complete")
	}
	if q.Valid {
		t.Fatal("expected quorum to be impossible with disagreeing group UUIDs")
	}
	if g.State != types.GroupNonPrimary {
		t.Fatalf("expected NON_PRIMARY after impossible quorum, got %s", g.State)
	}
}

func TestGroup_ActIDRewindGoesInconsistent(t *testing.T) {
	g := New("node-1", nil, 2, 2, 2)
	g.haveHistory = true
	g.ActID = 50 // we have applied beyond what the quorum represents

	g.HandleComponent(types.Component{
		Primary: true,
		MyIdx:   0,
		Members: []types.ComponentMember{{ID: "node-1"}, {ID: "node-2"}},
	})
	uuid, _ := g.EmitStateUUID()
	g.HandleStateUUID(0, uuid)

	groupUUID := types.NewUUID()
	msg := func() *types.StateMessage {
		return &types.StateMessage{
			Version: 6, StateUUID: uuid, GroupUUID: groupUUID,
			Received: 10, CurrentState: types.NodeSynced, PrimState: types.NodeSynced,
		}
	}
	g.HandleStateMessage(0, msg())
	_, complete := g.HandleStateMessage(1, msg())
	if !complete {
		t.Fatal("expected quorum round to complete")
	}
	if g.State != types.GroupInconsistent {
		t.Fatalf("expected INCONSISTENT on history rewind, got %s", g.State)
	}
}
