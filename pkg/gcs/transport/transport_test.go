package transport

import (
	"testing"
	"time"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

func TestMemoryTransport_BroadcastReachesAllMembersIncludingSender(t *testing.T) {
	hub := NewMemoryHub(0)
	a := hub.Join("a")
	b := hub.Join("b")
	c := hub.Join("c")
	defer hub.Leave("a")
	defer hub.Leave("b")
	defer hub.Leave("c")

	if err := a.Send(Envelope{Type: types.MsgAction, Data: []byte("hi")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, member := range []*MemoryTransport{a, b, c} {
		select {
		case env, ok := <-member.inbox:
			if !ok {
				t.Fatal("inbox closed unexpectedly")
			}
			if string(env.Data) != "hi" || env.Sender != "a" {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		case <-time.After(time.Second):
			t.Fatal("member never received broadcast")
		}
	}
}

func TestMemoryTransport_CloseCausesRecvNotConnected(t *testing.T) {
	hub := NewMemoryHub(0)
	a := hub.Join("a")
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := a.Recv(); err != gcserrors.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestMemoryTransport_SendAfterCloseIsNotConnected(t *testing.T) {
	hub := NewMemoryHub(0)
	a := hub.Join("a")
	_ = a.Close()
	if err := a.Send(Envelope{}); err != gcserrors.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestMemoryHub_ComponentListsAllMembers(t *testing.T) {
	hub := NewMemoryHub(0)
	hub.Join("a")
	hub.Join("b")
	comp := hub.Component(true, false)
	if len(comp.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(comp.Members))
	}
}
