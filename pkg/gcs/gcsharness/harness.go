// Package gcsharness provides a reusable multi-node test rig, grounded on
// the teacher's test/testing.go (UnityCluster/TestInvoker/WaitThisOrTimeout):
// the same "spin up N members on one in-memory transport, broadcast a
// component, drain the resulting CCHANGE on every member, then let the
// test drive replicate/vote/join traffic" shape, adapted from the
// teacher's unity-of-peers model to a cluster of gcs.Controller instances.
package gcsharness

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcs"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcslog"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// Cluster is a set of Controllers sharing one in-memory hub, bootstrapped
// into a single PRIMARY component.
type Cluster struct {
	T           *testing.T
	Names       []types.MemberID
	Controllers []*gcs.Controller

	hub   *transport.MemoryHub
	mu    sync.Mutex
	index int
}

// CreateCluster opens size Controllers named "<prefix>-0".."<prefix>-N",
// broadcasts one PRIMARY component spanning all of them, and drains the
// resulting CCHANGE from every member before returning (mirroring the
// teacher's CreateCluster, which hands back a cluster already past its
// own bootstrap handshake).
func CreateCluster(t *testing.T, size int, prefix string) *Cluster {
	t.Helper()
	hub := transport.NewMemoryHub(0)
	c := &Cluster{T: t, hub: hub}

	for i := 0; i < size; i++ {
		name := types.MemberID(fmt.Sprintf("%s-%d", prefix, i))
		tr := hub.Join(name)
		ctl, err := gcs.Open(gcs.Config{
			Transport:       tr,
			Logger:          gcslog.New(nil),
			MaxGcsProtoVer:  2,
			MaxReplProtoVer: 2,
			MaxApplProtoVer: 2,
		})
		if err != nil {
			t.Fatalf("open controller %s: %v", name, err)
		}
		c.Names = append(c.Names, name)
		c.Controllers = append(c.Controllers, ctl)
	}

	comp := hub.Component(true, size == 1)
	if err := hub.BroadcastComponent(comp); err != nil {
		t.Fatalf("broadcast bootstrap component: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, ctl := range c.Controllers {
		a, err := ctl.Recv(ctx)
		if err != nil {
			t.Fatalf("member %s never saw bootstrap CCHANGE: %v", c.Names[i], err)
		}
		if a.Type != types.ActCChange {
			t.Fatalf("member %s expected CCHANGE, got %s", c.Names[i], a.Type)
		}
	}
	return c
}

// Next round-robins across the cluster's controllers, mirroring the
// teacher's UnityCluster.Next.
func (c *Cluster) Next() *gcs.Controller {
	c.mu.Lock()
	defer func() {
		c.index++
		c.mu.Unlock()
	}()
	if c.index >= len(c.Controllers) {
		c.index = 0
	}
	return c.Controllers[c.index]
}

// Off closes and destroys every controller concurrently, mirroring the
// teacher's UnityCluster.Off/PoweroffUnity.
func (c *Cluster) Off() {
	var wg sync.WaitGroup
	for _, ctl := range c.Controllers {
		wg.Add(1)
		go func(ctl *gcs.Controller) {
			defer wg.Done()
			_ = ctl.Close()
			ctl.Destroy()
		}(ctl)
	}
	wg.Wait()
}

// PrintStackTrace dumps every goroutine's stack to the test log, used
// when a cluster-wide wait times out and a deadlock is suspected.
func PrintStackTrace(t *testing.T) {
	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, true)
	t.Errorf("%s", buf[:n])
}

// WaitThisOrTimeout runs cb in its own goroutine and reports whether it
// completed before duration elapsed.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
