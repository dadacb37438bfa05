// Package gcs is the application-visible lifecycle controller (spec
// §4.5): it owns the outer connection state machine (DESTROYED/CLOSED/
// OPEN/PRIMARY/JOINER/DONOR/JOINED/SYNCED), drives primary-component flow
// control and the state-transfer throttle on top of the replication core,
// and exposes the Controller API of spec §6/§7. Grounded on
// original_source/gcs/src/gcs.cpp's gcs_conn_t and on the teacher's
// pkg/mcast/core/peer.go for the surrounding goroutine/context ownership
// style.
package gcs

import (
	"context"
	"sync"
	"time"

	"github.com/groupcomm/gcs-core/pkg/gcs/core"
	"github.com/groupcomm/gcs-core/pkg/gcs/flowcontrol"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcslog"
	"github.com/groupcomm/gcs-core/pkg/gcs/group"
	"github.com/groupcomm/gcs-core/pkg/gcs/sendmonitor"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// desyncDonor is the sentinel donor name gcs_desync uses in the original
// (GCS_DESYNC_REQ) to mean "no real donor, just let me desync".
const desyncDonor = types.MemberID("#desync#")

// Config bundles what Open needs to assemble a Controller: the wire
// transport and this node's protocol ceilings and runtime parameters.
type Config struct {
	Transport transport.Transport
	Logger    gcslog.Logger
	Params    Params

	MaxGcsProtoVer  int
	MaxReplProtoVer int
	MaxApplProtoVer int

	// MasterSlave disables the sqrt(member_count) flow-control scaling
	// (spec §4.5 "unless master_slave is set").
	MasterSlave bool
	// Concurrency bounds how many local sends may be in flight at once
	// (spec §4.6 send monitor).
	Concurrency   int
	MaxActionSize int
}

// Controller is the single per-node entry point applications use.
type Controller struct {
	log      gcslog.Logger
	core     *core.Core
	fc       flowcontrol.PrimaryFC
	throttle flowcontrol.Throttle
	params   Params

	mu           sync.Mutex
	state        types.ConnState
	joinGTID     types.GTID
	joinCode     int64
	recvQueueLen int64

	fcStopSent uint64
	fcContSent uint64
	fcReceived uint64

	waitersMu sync.Mutex
	nextHandle int64
	cancels    map[int64]context.CancelFunc
}

// Open assembles the membership engine, send monitor, and replication
// core behind a fresh Controller in the OPEN state, mirroring gcs_open's
// allocation of conn->core/conn->sm/conn->params (spec §6 "open").
func Open(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, gcserrors.ErrBadFd
	}
	logger := cfg.Logger
	if logger == nil {
		logger = gcslog.New(nil)
	}
	params := cfg.Params
	if params == (Params{}) {
		params = DefaultParams()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	grp := group.New(cfg.Transport.Name(), nil, cfg.MaxGcsProtoVer, cfg.MaxReplProtoVer, cfg.MaxApplProtoVer)
	sm := sendmonitor.New(concurrency)
	cr := core.New(core.Config{
		Transport:     cfg.Transport,
		Group:         grp,
		SendMonitor:   sm,
		Logger:        logger,
		MaxActionSize: cfg.MaxActionSize,
		PacketSize:    params.MaxPacketSize,
	})

	maxFCState := types.NodeJoined
	if params.SyncDonor {
		maxFCState = types.NodeDonor
	}

	ctl := &Controller{
		log:   logger,
		core:  cr,
		state: types.ConnOpen,
		fc: flowcontrol.PrimaryFC{
			BaseLimit:    params.FCBaseLimit,
			ResumeFactor: params.FCResumeFactor,
			MasterSlave:  cfg.MasterSlave,
			MaxFCState:   int(maxFCState),
		},
		throttle: flowcontrol.Throttle{
			SoftLimit:    params.RecvQSoftLimit,
			HardLimit:    params.RecvQHardLimit,
			MaxThrottle:  params.MaxThrottle,
			BaseInterval: int64(time.Second),
		},
		params:   params,
		joinGTID: types.NilGTID,
		cancels:  make(map[int64]context.CancelFunc),
	}
	grp.VotePolicy = params.VotePolicy
	return ctl, nil
}

func (c *Controller) setState(s types.ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the controller's current application-visible state.
func (c *Controller) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close stops accepting new operations and tears down the transport,
// idempotently (spec §6 "close"; a second call returns ErrAlready).
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == types.ConnClosed || c.state == types.ConnDestroyed {
		c.mu.Unlock()
		return gcserrors.ErrAlready
	}
	c.state = types.ConnClosed
	c.mu.Unlock()
	return c.core.Close()
}

// Destroy releases every resource after Close has completed.
func (c *Controller) Destroy() {
	c.setState(types.ConnDestroyed)
	c.core.Destroy()
}

// onDelivery translates one core-level delivery into controller state
// transitions. Callers that pump Recv in a loop should route every
// ActCChange/ActJoin/ActSync/ActFlow through here before handing the
// action to the application, matching gcs_recv's own bookkeeping (flow
// control replies, connection-state update) around its fifo pop.
func (c *Controller) onDelivery(a types.Action) {
	switch a.Type {
	case types.ActCChange:
		if c.State() == types.ConnOpen || c.State() == types.ConnSynced {
			c.setState(types.ConnPrimary)
		}
		c.mu.Lock()
		c.fc.Recompute(len(c.core.Group().Nodes))
		c.mu.Unlock()
	case types.ActJoin:
		c.setState(types.ConnJoined)
	case types.ActSync:
		c.setState(types.ConnSynced)
	case types.ActFlow:
		stop := a.Seqno != 0
		c.mu.Lock()
		var shouldPause, shouldResume bool
		if stop {
			c.fcReceived++
			shouldPause = c.fc.RecordStop()
		} else {
			shouldResume = c.fc.RecordCont()
		}
		c.mu.Unlock()
		// Only the first outstanding STOP and the last outstanding CONT
		// actually flip the local send gate (spec §4.5 "Primary-component
		// FC"); intermediate votes just accumulate in fc.stopCount.
		if shouldPause {
			c.core.SendMonitor().Pause()
		}
		if shouldResume {
			c.core.SendMonitor().Continue()
		}
	}
}

// Recv returns the next delivered action, applying the controller-level
// bookkeeping (flow-control replies, connection-state transitions) that
// spec §4.5 describes as happening "on every delivery", before returning
// it to the caller.
func (c *Controller) Recv(ctx context.Context) (types.Action, error) {
	a, err := c.core.Recv(ctx)
	if err != nil {
		return types.Action{}, err
	}
	c.onDelivery(a)
	c.checkOwnQueueFC()
	return a, nil
}

// checkOwnQueueFC reports this node's own recv-queue occupancy against
// its flow-control watermarks and broadcasts FC_STOP/FC_CONT when it
// crosses one (spec §4.5 "Primary-component FC": every member, not just
// the busiest one, votes independently).
func (c *Controller) checkOwnQueueFC() {
	queueLen := c.core.QueueLen()

	c.mu.Lock()
	grp := c.core.Group()
	var localState int
	if grp.MyIdx >= 0 && grp.MyIdx < len(grp.Nodes) {
		localState = int(grp.Nodes[grp.MyIdx].Status)
	}
	confID := uint32(grp.PrimSeqno)
	shouldStop := c.fc.ShouldStop(queueLen, localState)
	shouldCont := c.fc.ShouldContinue(queueLen)
	if shouldStop {
		c.fcStopSent++
	}
	if shouldCont {
		c.fcContSent++
	}
	c.mu.Unlock()

	if shouldStop {
		if err := c.core.SendFlow(confID, true); err != nil {
			c.log.Warnf("sending FC_STOP: %v", err)
		}
	} else if shouldCont {
		if err := c.core.SendFlow(confID, false); err != nil {
			c.log.Warnf("sending FC_CONT: %v", err)
		}
	}
}

// Send fragments and broadcasts payload without waiting for its global
// order to be assigned (spec §6 "send").
func (c *Controller) Send(ctx context.Context, payload []byte, actType types.ActionType) (int, error) {
	n, _, err := c.core.Send(ctx, payload, actType)
	return n, err
}

// Replicate sends payload and blocks until this node observes its own
// delivery, returning the ordered Action (spec §6 "replicate"; the
// blocking counterpart of Send, grounded on gcs_repl's wait on
// repl_act.wait_cond).
func (c *Controller) Replicate(ctx context.Context, payload []byte, actType types.ActionType) (types.Action, error) {
	_, done, err := c.core.Send(ctx, payload, actType)
	if err != nil {
		return types.Action{}, err
	}
	select {
	case a := <-done:
		return a, nil
	case <-ctx.Done():
		return types.Action{}, gcserrors.ErrTimedOut
	}
}

// SetLastApplied reports g as this node's new last-applied position
// (spec §6 "set_last_applied"), broadcast as a LAST message.
func (c *Controller) SetLastApplied(g types.GTID) error {
	return c.core.SendLast(g)
}

// Join reports this node has finished state transfer up to g (spec §6
// "join"), broadcast as a JOIN message. A negative code reports a failed
// join attempt instead, mirroring gcs_join's "code < 0" early-accept path.
func (c *Controller) Join(g types.GTID, code int64) error {
	c.mu.Lock()
	if code < 0 || g.Seqno >= c.joinGTID.Seqno {
		c.joinGTID = g
		c.joinCode = code
	}
	c.mu.Unlock()
	return c.core.SendJoin(g, code)
}

// Desync requests this node leave the flow-controlled send path without
// a real state-transfer donor (spec §6 "desync"; gcs_desync's special
// donor name passed to RequestStateTransfer).
func (c *Controller) Desync(ctx context.Context) (types.Seqno, error) {
	return c.RequestStateTransfer(ctx, 2, nil, string(desyncDonor), types.NilGTID)
}

// RequestStateTransfer asks the group to nominate (or honor donor, if
// non-empty) a state-transfer donor and broadcasts the request as a
// STATE_REQ action (spec §6 "request_state_transfer"). It returns the
// seqno at which the request was ordered.
func (c *Controller) RequestStateTransfer(ctx context.Context, version int, req []byte, donor string, ist types.GTID) (types.Seqno, error) {
	c.mu.Lock()
	nodes := c.core.Group().Nodes
	myIdx := c.core.Group().MyIdx
	confSeqno := c.core.Group().ActID
	var joinerSegment int
	if myIdx >= 0 && myIdx < len(nodes) {
		joinerSegment = nodes[myIdx].Segment
	}
	d, ok := selectDonor(nodes, joinerSegment, ist.Seqno, types.MemberID(donor), confSeqno)
	c.mu.Unlock()
	if donor != "" && donor != string(desyncDonor) && !ok {
		return types.SeqnoIllegal, gcserrors.ErrNotFound
	}

	payload := stateTransferRequest{Version: version, Request: req, IST: ist}
	if ok {
		payload.Donor = string(d.ID)
	}
	data, err := transport.EncodeJSON(payload)
	if err != nil {
		return types.SeqnoIllegal, err
	}

	a, err := c.Replicate(ctx, data, types.ActStateReq)
	if err != nil {
		return types.SeqnoIllegal, err
	}
	return types.Seqno(a.Seqno), nil
}

// stateTransferRequest is the STATE_REQ action payload (spec §6 "RST
// format"), JSON-encoded per this module's ambient wire convention
// instead of the original's hand-packed binary layout.
type stateTransferRequest struct {
	Version int        `json:"version"`
	Donor   string      `json:"donor"`
	IST     types.GTID `json:"ist"`
	Request []byte     `json:"request"`
}

// Vote broadcasts a vote for gtid and blocks for the group's decision,
// returning 0 for agreement with the locally computed vote, 1 for
// disagreement (spec §6 "vote": "0 agree, 1 disagree, <0 err"), grounded
// on gcs_vote's `my_vote != conn->vote_res_` comparison.
func (c *Controller) Vote(ctx context.Context, gtid types.GTID, code int64, payload []byte) (int, error) {
	myVote := core.HashVote(gtid, code, payload)
	result := c.core.AwaitVote(gtid)
	if err := c.core.SendVote(gtid, myVote); err != nil {
		return -1, err
	}
	select {
	case decided := <-result:
		if decided == myVote {
			return 0, nil
		}
		return 1, nil
	case <-ctx.Done():
		return -1, gcserrors.ErrTimedOut
	}
}

// Schedule registers a new cancelable wait and returns its handle (spec
// §6 "schedule"/"interrupt"), the Go-idiomatic analogue of gcs_schedule's
// fifo-slot reservation: the handle's context should be threaded into the
// next Recv/Replicate/Vote call, and Interrupt(handle) cancels it.
func (c *Controller) Schedule() (int64, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	c.nextHandle++
	handle := c.nextHandle
	c.cancels[handle] = cancel
	return handle, ctx
}

// Interrupt cancels the context associated with handle, unblocking
// whatever call it was threaded into with gcserrors.ErrTimedOut or
// gcserrors.ErrInterrupted depending on where it was waiting.
func (c *Controller) Interrupt(handle int64) error {
	c.waitersMu.Lock()
	cancel, ok := c.cancels[handle]
	delete(c.cancels, handle)
	c.waitersMu.Unlock()
	if !ok {
		return gcserrors.ErrNotFound
	}
	cancel()
	return nil
}

// ParamSet applies a runtime configuration key (spec §6 "param_set").
func (c *Controller) ParamSet(key, value string) error {
	return c.paramSet(key, value)
}

// ParamGet reads back a runtime configuration key (spec §6 "param_get").
func (c *Controller) ParamGet(key string) (string, bool) {
	return c.paramGet(key)
}
