// Package gcsmetrics exports a controller's stats snapshot as Prometheus
// metrics. Named in the domain stack as the ecosystem-standard exporter
// for a long-running Go service; nothing in the teacher or the rest of
// the pack wires client_golang directly; see DESIGN.md for the wiring
// rationale.
package gcsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcs"
)

// StatsSource is the subset of *gcs.Controller the collector reads from,
// narrowed to an interface so tests can supply a fake snapshot.
type StatsSource interface {
	GetStats() gcs.Stats
}

// Collector is a prometheus.Collector wrapping one controller's stats
// snapshot, following the standard "describe statically, collect from a
// live read" pattern: Describe emits the metric descriptors once, Collect
// takes a fresh StatsSource snapshot on every scrape.
type Collector struct {
	source StatsSource

	state          *prometheus.Desc
	recvQueueLen   *prometheus.Desc
	smEntered      *prometheus.Desc
	smWaited       *prometheus.Desc
	fcUpper        *prometheus.Desc
	fcLower        *prometheus.Desc
	fcStopSent     *prometheus.Desc
	fcContSent     *prometheus.Desc
	fcReceived     *prometheus.Desc
	commitCut      *prometheus.Desc
	nodeStateGauge *prometheus.Desc
}

// NewCollector builds a Collector reading from source. Register it with a
// prometheus.Registry to expose the controller's stats on a scrape
// endpoint.
func NewCollector(source StatsSource) *Collector {
	const ns = "gcs"
	return &Collector{
		source: source,
		state: prometheus.NewDesc(
			ns+"_conn_state", "Current connection state (numeric, see types.ConnState)", nil, nil),
		recvQueueLen: prometheus.NewDesc(
			ns+"_recv_queue_length", "Number of deliveries buffered and not yet consumed", nil, nil),
		smEntered: prometheus.NewDesc(
			ns+"_send_monitor_entered_total", "Cumulative count of send-monitor admissions", nil, nil),
		smWaited: prometheus.NewDesc(
			ns+"_send_monitor_waited_total", "Cumulative count of send-monitor admissions that had to wait", nil, nil),
		fcUpper: prometheus.NewDesc(
			ns+"_flow_control_upper_limit", "Current flow-control upper (stop) limit", nil, nil),
		fcLower: prometheus.NewDesc(
			ns+"_flow_control_lower_limit", "Current flow-control lower (resume) limit", nil, nil),
		fcStopSent: prometheus.NewDesc(
			ns+"_flow_control_stop_sent_total", "Cumulative count of FC_STOP votes this node broadcast", nil, nil),
		fcContSent: prometheus.NewDesc(
			ns+"_flow_control_cont_sent_total", "Cumulative count of FC_CONT votes this node broadcast", nil, nil),
		fcReceived: prometheus.NewDesc(
			ns+"_flow_control_received_total", "Cumulative count of FC_STOP messages received, this node's own included", nil, nil),
		commitCut: prometheus.NewDesc(
			ns+"_commit_cut_seqno", "Current group commit-cut sequence number", nil, nil),
		nodeStateGauge: prometheus.NewDesc(
			ns+"_node_state", "Per-member node lifecycle state (1 = reporting this state)",
			[]string{"member", "state"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.recvQueueLen
	ch <- c.smEntered
	ch <- c.smWaited
	ch <- c.fcUpper
	ch <- c.fcLower
	ch <- c.fcStopSent
	ch <- c.fcContSent
	ch <- c.fcReceived
	ch <- c.commitCut
	ch <- c.nodeStateGauge
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.GetStats()

	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State))
	ch <- prometheus.MustNewConstMetric(c.recvQueueLen, prometheus.GaugeValue, float64(s.RecvQueueLen))
	ch <- prometheus.MustNewConstMetric(c.smEntered, prometheus.CounterValue, float64(s.SendMonitor.EnteredCount))
	ch <- prometheus.MustNewConstMetric(c.smWaited, prometheus.CounterValue, float64(s.SendMonitor.WaitedCount))
	ch <- prometheus.MustNewConstMetric(c.fcUpper, prometheus.GaugeValue, float64(s.FCUpper))
	ch <- prometheus.MustNewConstMetric(c.fcLower, prometheus.GaugeValue, float64(s.FCLower))
	ch <- prometheus.MustNewConstMetric(c.fcStopSent, prometheus.CounterValue, float64(s.FCStopSent))
	ch <- prometheus.MustNewConstMetric(c.fcContSent, prometheus.CounterValue, float64(s.FCContSent))
	ch <- prometheus.MustNewConstMetric(c.fcReceived, prometheus.CounterValue, float64(s.FCReceived))
	ch <- prometheus.MustNewConstMetric(c.commitCut, prometheus.GaugeValue, float64(s.CommitCut))

	for member, state := range s.NodeStatuses {
		ch <- prometheus.MustNewConstMetric(c.nodeStateGauge, prometheus.GaugeValue, 1,
			string(member), state.String())
	}
}
