// Package core implements the replication core's send/receive dispatch
// (spec §4.4): fragmenting outgoing actions, reassembling incoming ones,
// driving the membership engine, and producing the ordered delivery
// stream the lifecycle controller consumes. Grounded on the teacher's
// pkg/mcast/core/peer.go (context+cancel goroutine ownership, observer/
// notify matching of a local send to its eventual delivery) adapted from
// total-order multicast semantics to GCS semantics.
package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/groupcomm/gcs-core/pkg/gcs/fragment"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/gcslog"
	"github.com/groupcomm/gcs-core/pkg/gcs/group"
	"github.com/groupcomm/gcs-core/pkg/gcs/sendmonitor"
	"github.com/groupcomm/gcs-core/pkg/gcs/transport"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
)

// pendingSend is one local-FIFO entry describing an in-flight send this
// node issued, so the receive thread can match the eventual completed
// delivery back to its caller (spec §3 "FIFO primitive", §4.4 step 3).
type pendingSend struct {
	actionID   int64
	actionType types.ActionType
	payload    []byte
	done       chan types.Action
}

// Core owns the transport handle, the local send FIFO, the membership
// engine, and the current outer core-state.
type Core struct {
	log       gcslog.Logger
	transport transport.Transport
	grp       *group.Group
	sm        *sendmonitor.Monitor

	mu           sync.Mutex // the "send lock" of spec's shared-resource policy
	state        types.CoreState
	nextActionID int64
	localSeq     int64

	fifoMu    sync.Mutex
	fifoQueue []*pendingSend

	deliveries chan types.Action
	voting     *voting

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	MaxActionSize int
	packetSize    int64 // atomic: negotiated max_packet_size, fragment.HeaderSize included
}

// Config bundles the collaborators a Core is built from.
type Config struct {
	Transport     transport.Transport
	Group         *group.Group
	SendMonitor   *sendmonitor.Monitor
	Logger        gcslog.Logger
	MaxActionSize int
	// PacketSize is the negotiated max_packet_size (spec §6 "max_packet_size"),
	// the ceiling on one whole wire envelope including the fragment header.
	// When zero, it falls back to Transport.MsgSize() if positive, else
	// defaultPacketSize.
	PacketSize int
}

// defaultPacketSize matches gcs_conf.cpp's default max_packet_size (64KiB).
const defaultPacketSize = 64 * 1024

// New creates a Core in NON_PRIMARY state and starts its receive loop.
func New(cfg Config) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	maxSize := cfg.MaxActionSize
	if maxSize <= 0 {
		maxSize = fragment.MaxActionSize
	}
	packetSize := cfg.PacketSize
	if packetSize <= 0 {
		packetSize = cfg.Transport.MsgSize()
	}
	if packetSize <= 0 {
		packetSize = defaultPacketSize
	}
	c := &Core{
		log:           cfg.Logger,
		transport:     cfg.Transport,
		grp:           cfg.Group,
		sm:            cfg.SendMonitor,
		state:         types.CoreNonPrimary,
		deliveries:    make(chan types.Action, 256),
		voting:        newVoting(),
		ctx:           ctx,
		cancel:        cancel,
		MaxActionSize: maxSize,
	}
	atomic.StoreInt64(&c.packetSize, int64(packetSize))
	c.wg.Add(1)
	go c.recvLoop()
	return c
}

// SetPacketSize adjusts the live fragment chunk size (spec §6
// "param_set max_packet_size"), taking effect on the next Send call.
func (c *Core) SetPacketSize(n int) {
	if n <= 0 {
		return
	}
	atomic.StoreInt64(&c.packetSize, int64(n))
}

// chunkPayloadSize returns the current per-fragment payload budget: the
// negotiated packet size minus the fixed fragment header.
func (c *Core) chunkPayloadSize() int {
	n := int(atomic.LoadInt64(&c.packetSize)) - fragment.HeaderSize
	if n < 1 {
		n = 1
	}
	return n
}

// setState transitions the core's outer state under the send lock.
func (c *Core) setState(s types.CoreState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current core-state.
func (c *Core) State() types.CoreState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Group exposes the membership engine this core drives, for collaborators
// (the lifecycle controller's flow control and donor selection) that need
// to read node records or adjust vote policy. Callers must not mutate it
// concurrently with the receive loop without the same care core itself
// takes internally.
func (c *Core) Group() *group.Group {
	return c.grp
}

// SendMonitor exposes the send gate this core throttles local sends
// through, so the lifecycle controller can Pause/Continue it in response
// to group-wide flow-control votes.
func (c *Core) SendMonitor() *sendmonitor.Monitor {
	return c.sm
}

// QueueLen reports how many deliveries are currently buffered and not
// yet consumed by Recv, used by the lifecycle controller to decide
// whether to broadcast a flow-control STOP/CONT vote.
func (c *Core) QueueLen() int {
	return len(c.deliveries)
}

func (c *Core) pushPending(id int64, actionType types.ActionType, payload []byte) chan types.Action {
	p := &pendingSend{actionID: id, actionType: actionType, payload: payload, done: make(chan types.Action, 1)}
	c.fifoMu.Lock()
	c.fifoQueue = append(c.fifoQueue, p)
	c.fifoMu.Unlock()
	return p.done
}

// popPendingFor removes and returns the pending entry matching actionID
// if it is at the head of the FIFO (spec §4.4 "matches the head of the
// local FIFO").
func (c *Core) popPendingFor(actionID int64) chan types.Action {
	c.fifoMu.Lock()
	defer c.fifoMu.Unlock()
	if len(c.fifoQueue) == 0 || c.fifoQueue[0].actionID != actionID {
		return nil
	}
	done := c.fifoQueue[0].done
	c.fifoQueue = c.fifoQueue[1:]
	return done
}

// removePending drops a pending entry that will never be delivered
// (spec §4.4 step 5, transport reports not-connected mid-action).
func (c *Core) removePending(id int64) {
	c.fifoMu.Lock()
	defer c.fifoMu.Unlock()
	for i, p := range c.fifoQueue {
		if p.actionID == id {
			c.fifoQueue = append(c.fifoQueue[:i], c.fifoQueue[i+1:]...)
			return
		}
	}
}

// drainPending abandons every in-flight local send, reporting err's
// negative seqno code on each while preserving the original action type
// and payload bytes (spec §8 scenario 3: "a WRITESET whose seqno field is
// the negative not-connected code, same payload bytes preserved"). Each
// abandoned action is delivered on both the sender's own completion
// channel and the shared delivery stream, so any observer reading Recv
// sees it, not just the goroutine that issued the original Send.
func (c *Core) drainPending(err error) {
	c.fifoMu.Lock()
	pending := c.fifoQueue
	c.fifoQueue = nil
	c.fifoMu.Unlock()
	for _, p := range pending {
		action := types.Action{Type: p.actionType, Payload: p.payload, Seqno: errSeqno(err)}
		p.done <- action
		c.deliver(action)
	}
}

func errSeqno(err error) int64 {
	switch err {
	case gcserrors.ErrRestart:
		return -2
	default:
		return -1
	}
}

// Send fragments payload and hands each fragment to the transport under
// the send monitor (spec §4.4 "Send path"). It returns the total bytes
// sent; the global seqno is delivered later via Recv for action types
// that go through the ordering path.
func (c *Core) Send(ctx context.Context, payload []byte, actionType types.ActionType) (int, chan types.Action, error) {
	if len(payload) > c.MaxActionSize {
		return 0, nil, gcserrors.ErrMessageTooBig
	}

	state := c.State()
	switch state {
	case types.CoreNonPrimary:
		return 0, nil, gcserrors.ErrNotConnected
	case types.CoreClosed:
		return 0, nil, gcserrors.ErrRestart
	case types.CoreDestroyed:
		return 0, nil, gcserrors.ErrBadFd
	case types.CoreExchange:
		if actionType != ActStateMsgInternal {
			return 0, nil, gcserrors.ErrAgain
		}
	}

	ticket, err := c.sm.Enter(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer ticket.Leave()

	actionID := atomic.AddInt64(&c.nextActionID, 1) - 1
	done := c.pushPending(actionID, actionType, payload)

	sent, err := c.sendFragments(actionID, payload, actionType)
	if err != nil {
		c.removePending(actionID)
		return sent, nil, err
	}
	return sent, done, nil
}

// ActStateMsgInternal is a pseudo action-type used only to let a STATE_MSG
// through while the core is in the EXCHANGE state (spec §4.4 step 2).
const ActStateMsgInternal = types.ActionType(255)

func (c *Core) sendFragments(actionID int64, payload []byte, actionType types.ActionType) (int, error) {
	total := len(payload)
	sent := 0
	fragNo := uint32(0)
	chunkSize := c.chunkPayloadSize()

	for sent < total || total == 0 {
		end := sent + chunkSize
		if end > total {
			end = total
		}
		chunk := payload[sent:end]

		buf := make([]byte, fragment.HeaderSize+len(chunk))
		desc := &fragment.Descriptor{
			ActionID:   actionID,
			ActionSize: uint32(total),
			FragmentNo: fragNo,
			ActionType: uint8(actionType),
			Payload:    chunk,
		}
		if _, err := fragment.Write(desc, buf); err != nil {
			return sent, err
		}

		err := c.transport.Send(transport.Envelope{Type: types.MsgAction, Data: buf})
		if err == gcserrors.ErrNotConnected {
			return sent, err
		}
		if err != nil {
			return sent, err
		}

		sent = end
		fragNo++
		if total == 0 {
			break
		}
	}
	return sent, nil
}

// Recv returns the next delivered action, or an error once ctx is
// canceled or the core is closed.
func (c *Core) Recv(ctx context.Context) (types.Action, error) {
	select {
	case a, ok := <-c.deliveries:
		if !ok {
			return types.Action{}, gcserrors.ErrNotConnected
		}
		return a, nil
	case <-ctx.Done():
		return types.Action{}, gcserrors.ErrTimedOut
	}
}

// Close sets core-state to CLOSED, stops the transport, and wakes all
// pending waiters and blocked receivers with not-connected/restart.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.state == types.CoreClosed || c.state == types.CoreDestroyed {
		c.mu.Unlock()
		return gcserrors.ErrAlready
	}
	c.state = types.CoreClosed
	c.mu.Unlock()

	c.drainPending(gcserrors.ErrRestart)
	return c.transport.Close()
}

// Destroy releases all resources after Close has completed.
func (c *Core) Destroy() {
	c.setState(types.CoreDestroyed)
	c.cancel()
	c.wg.Wait()
}

func (c *Core) deliver(a types.Action) {
	select {
	case c.deliveries <- a:
	case <-c.ctx.Done():
	}
}
