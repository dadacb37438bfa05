package gcs

import (
	"context"
	"testing"
	"time"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcslog"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

func openSingleton(t *testing.T, hub *transport.MemoryHub, id types.MemberID) *Controller {
	t.Helper()
	tr := hub.Join(id)
	ctl, err := Open(Config{Transport: tr, Logger: gcslog.New(nil), MaxGcsProtoVer: 2, MaxReplProtoVer: 2, MaxApplProtoVer: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = ctl.Close(); ctl.Destroy() })
	return ctl
}

func TestController_OpenReachesPrimaryOnBootstrap(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	ctl := openSingleton(t, hub, "solo")

	comp := hub.Component(true, true)
	if err := hub.BroadcastComponent(comp); err != nil {
		t.Fatalf("broadcast component: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a, err := ctl.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if a.Type != types.ActCChange {
		t.Fatalf("expected CCHANGE, got %s", a.Type)
	}
	if ctl.State() != types.ConnPrimary {
		t.Fatalf("expected PRIMARY, got %s", ctl.State())
	}
}

func TestController_ReplicateRoundTrip(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	ctl := openSingleton(t, hub, "solo")
	if err := hub.BroadcastComponent(hub.Component(true, true)); err != nil {
		t.Fatalf("broadcast component: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Drain the CCHANGE first so the connection state flips to PRIMARY.
	if _, err := ctl.Recv(ctx); err != nil {
		t.Fatalf("recv cchange: %v", err)
	}

	payload := []byte("writeset-bytes")
	a, err := ctl.Replicate(ctx, payload, types.ActWriteset)
	if err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if string(a.Payload) != string(payload) {
		t.Fatalf("expected payload %q, got %q", payload, a.Payload)
	}
}

func TestController_ParamSetGetRoundTrip(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	ctl := openSingleton(t, hub, "solo")

	if err := ctl.ParamSet("fc_base_limit", "32"); err != nil {
		t.Fatalf("param set: %v", err)
	}
	got, ok := ctl.ParamGet("fc_base_limit")
	if !ok || got != "32" {
		t.Fatalf("expected fc_base_limit=32, got %q ok=%v", got, ok)
	}

	if err := ctl.ParamSet("vote_policy", "2"); err != nil {
		t.Fatalf("param set vote_policy: %v", err)
	}
	if got, _ := ctl.ParamGet("vote_policy"); got != "2" {
		t.Fatalf("expected vote_policy=2, got %q", got)
	}
	if ctl.core.Group().VotePolicy != 2 {
		t.Fatalf("expected group.VotePolicy updated to 2, got %d", ctl.core.Group().VotePolicy)
	}

	if _, ok := ctl.ParamGet("not_a_real_key"); ok {
		t.Fatal("expected unrecognized key to report ok=false")
	}
}

func TestController_CloseIsIdempotent(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	tr := hub.Join("solo")
	ctl, err := Open(Config{Transport: tr, MaxGcsProtoVer: 2, MaxReplProtoVer: 2, MaxApplProtoVer: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ctl.Destroy()

	if err := ctl.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := ctl.Close(); err == nil {
		t.Fatal("expected second close to report already-closed")
	}
}

func TestController_ScheduleInterruptCancelsRecv(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	ctl := openSingleton(t, hub, "solo")

	handle, waitCtx := ctl.Schedule()
	errCh := make(chan error, 1)
	go func() {
		_, err := ctl.Recv(waitCtx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := ctl.Interrupt(handle); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected recv to be interrupted with an error")
		}
	case <-time.After(time.Second):
		t.Fatal("recv was never unblocked by interrupt")
	}
}

func TestController_VoteThreeNodeMajority(t *testing.T) {
	hub := transport.NewMemoryHub(0)
	a := openSingleton(t, hub, "a")
	ctlB := openSingleton(t, hub, "b")
	ctlC := openSingleton(t, hub, "c")

	comp := hub.Component(true, false)
	if err := hub.BroadcastComponent(comp); err != nil {
		t.Fatalf("broadcast component: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, ctl := range []*Controller{a, ctlB, ctlC} {
		if _, err := ctl.Recv(ctx); err != nil {
			t.Fatalf("recv cchange: %v", err)
		}
	}

	gtid := types.GTID{UUID: a.core.Group().GroupUUID, Seqno: 100}
	type outcome struct {
		who string
		res int
		err error
	}
	results := make(chan outcome, 3)
	vote := func(who string, ctl *Controller, code int64, payload []byte) {
		r, err := ctl.Vote(ctx, gtid, code, payload)
		results <- outcome{who: who, res: r, err: err}
	}
	go vote("a", a, 0xAA, []byte("same"))
	go vote("b", ctlB, 0xAA, []byte("same"))
	go vote("c", ctlC, 0xBB, []byte("different"))

	got := make(map[string]int, 3)
	for i := 0; i < 3; i++ {
		select {
		case o := <-results:
			if o.err != nil {
				t.Fatalf("vote %s: %v", o.who, o.err)
			}
			got[o.who] = o.res
		case <-time.After(time.Second):
			t.Fatal("vote never resolved")
		}
	}

	if got["a"] != 0 || got["b"] != 0 {
		t.Fatalf("expected a and b to agree with the winning majority, got %+v", got)
	}
	if got["c"] != 1 {
		t.Fatalf("expected c to disagree with the winning majority, got %+v", got)
	}
}
