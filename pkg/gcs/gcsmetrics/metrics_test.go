package gcsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcs"
	"github.com/groupcomm/gcs-core/pkg/gcs/sendmonitor"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

type fakeSource struct {
	stats gcs.Stats
}

func (f fakeSource) GetStats() gcs.Stats { return f.stats }

func TestCollector_GathersAllDescriptors(t *testing.T) {
	src := fakeSource{stats: gcs.Stats{
		State:        types.ConnPrimary,
		RecvQueueLen: 3,
		SendMonitor:  sendmonitor.Stats{EnteredCount: 10, WaitedCount: 2},
		FCUpper:      16,
		FCLower:      8,
		FCStopSent:   1,
		FCContSent:   1,
		FCReceived:   4,
		CommitCut:    types.Seqno(42),
		NodeStatuses: map[types.MemberID]types.NodeState{
			"a": types.NodeSynced,
		},
	}}

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src)); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	want := map[string]bool{
		"gcs_conn_state": false, "gcs_recv_queue_length": false,
		"gcs_send_monitor_entered_total": false, "gcs_send_monitor_waited_total": false,
		"gcs_flow_control_upper_limit": false, "gcs_flow_control_lower_limit": false,
		"gcs_flow_control_stop_sent_total": false, "gcs_flow_control_cont_sent_total": false,
		"gcs_flow_control_received_total": false, "gcs_commit_cut_seqno": false,
		"gcs_node_state": false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
		if mf.GetName() == "gcs_commit_cut_seqno" {
			if got := mf.Metric[0].GetGauge().GetValue(); got != 42 {
				t.Fatalf("expected commit cut 42, got %v", got)
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("expected metric family %s to be gathered", name)
		}
	}
}
