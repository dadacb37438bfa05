// Package transport defines the message-passing boundary the replication
// core depends on and an in-memory reference implementation used for
// tests and single-process deployments. Grounded on
// original_source/gcs/src/gcs_backend.hpp (the capability-set function
// table every backend must implement) and on the teacher's
// pkg/mcast/core/transport.go (JSON-over-channel wiring style).
package transport

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/groupcomm/gcs-core/pkg/gcs/gcserrors"
	"github.com/groupcomm/gcs-core/pkg/gcs/types"
	"github.com/pkg/errors"
)

// Envelope is one message crossing the transport boundary: a type tag
// plus an opaque payload (spec §6 "Message types on the wire").
type Envelope struct {
	Type   types.MessageType
	Sender types.MemberID
	Data   []byte
}

// Transport is the capability set a backend must provide (spec §1
// "only a message-passing interface is assumed"; gcs_backend.hpp's
// open/close/send/recv/name/msg_size table, generalized to a Go
// interface instead of a function-pointer struct).
type Transport interface {
	// Send delivers env to every current member of the component. It
	// returns gcserrors.ErrAgain on a transient full-queue condition and
	// gcserrors.ErrNotConnected once Close has been called.
	Send(env Envelope) error

	// Recv returns the next envelope, blocking until one is available or
	// Close is called.
	Recv() (Envelope, error)

	// Name reports the locally assigned member id.
	Name() types.MemberID

	// MsgSize reports the maximum single-envelope payload this transport
	// can carry, used to size the fragment codec's per-fragment chunk.
	MsgSize() int

	Close() error
}

// MemoryTransport is an in-process reference backend connecting multiple
// local members without any real network, grounded on
// original_source/gcs/src/gcs_dummy.hpp's inject_msg/set_component
// test-only backend.
type MemoryTransport struct {
	name types.MemberID
	hub  *MemoryHub

	mu     sync.Mutex
	inbox  chan Envelope
	closed bool
}

// MemoryHub is the shared rendezvous point a set of MemoryTransport
// instances register with; it fans out every Send to every registered
// member, the sender included, mimicking a reliable broadcast backend.
type MemoryHub struct {
	mu      sync.Mutex
	members map[types.MemberID]*MemoryTransport
	maxMsg  int
}

// NewMemoryHub creates a hub. maxMsg bounds MsgSize() for every member
// transport that joins it.
func NewMemoryHub(maxMsg int) *MemoryHub {
	if maxMsg <= 0 {
		maxMsg = 64 * 1024
	}
	return &MemoryHub{members: make(map[types.MemberID]*MemoryTransport), maxMsg: maxMsg}
}

// Join registers a new member transport with the hub and returns it. The
// component descriptor is not sent automatically; the caller (or a test
// harness) is responsible for broadcasting a COMPONENT envelope once all
// intended members have joined.
func (h *MemoryHub) Join(id types.MemberID) *MemoryTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &MemoryTransport{name: id, hub: h, inbox: make(chan Envelope, 256)}
	h.members[id] = t
	return t
}

// Leave removes a member from the hub, closing its transport.
func (h *MemoryHub) Leave(id types.MemberID) {
	h.mu.Lock()
	t, ok := h.members[id]
	delete(h.members, id)
	h.mu.Unlock()
	if ok {
		_ = t.Close()
	}
}

// Component builds a types.Component snapshot of the hub's current
// membership, ordered by id, suitable for broadcasting as a COMPONENT
// envelope by a test harness driving reconfiguration.
func (h *MemoryHub) Component(primary bool, bootstrap bool) types.Component {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]types.ComponentMember, 0, len(h.members))
	for id := range h.members {
		members = append(members, types.ComponentMember{ID: id})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return types.Component{Primary: primary, Bootstrap: bootstrap, Members: members}
}

// BroadcastComponent delivers a COMPONENT envelope to every current
// member, as a real backend would on every view change. Unlike Send, it
// is not attributed to any member and always reaches every member
// including the caller, since a component view applies identically to
// everyone in it.
func (h *MemoryHub) BroadcastComponent(comp types.Component) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, t := range h.members {
		mine := comp
		mine.MyIdx = -1
		for i, m := range comp.Members {
			if m.ID == id {
				mine.MyIdx = i
				break
			}
		}
		data, err := EncodeJSON(mine)
		if err != nil {
			return err
		}
		env := Envelope{Type: types.MsgComponent, Data: data}
		select {
		case t.inbox <- env:
		default:
			return gcserrors.ErrAgain
		}
	}
	return nil
}

// broadcast fans env out to every member including its own sender: this
// is a total-order group broadcast, so the sender learns the action's
// place in the global order the same way every other member does, by
// observing its own message come back through the group (spec §4.4
// "the global seqno is delivered later via the receive path").
func (h *MemoryHub) broadcast(env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.members {
		select {
		case t.inbox <- env:
		default:
			return gcserrors.ErrAgain
		}
	}
	return nil
}

// Send implements Transport.
func (t *MemoryTransport) Send(env Envelope) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return gcserrors.ErrNotConnected
	}
	t.mu.Unlock()
	env.Sender = t.name
	return t.hub.broadcast(env)
}

// Recv implements Transport.
func (t *MemoryTransport) Recv() (Envelope, error) {
	env, ok := <-t.inbox
	if !ok {
		return Envelope{}, gcserrors.ErrNotConnected
	}
	return env, nil
}

// Name implements Transport.
func (t *MemoryTransport) Name() types.MemberID { return t.name }

// MsgSize implements Transport.
func (t *MemoryTransport) MsgSize() int { return t.hub.maxMsg }

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.inbox)
	return nil
}

// EncodeJSON and DecodeJSON are convenience helpers most envelope payload
// types use (the teacher's ReliableTransport marshals every message as
// JSON before handing it to its wire layer; this core keeps that
// convention for every payload except the fixed-layout fragment header,
// which uses the binary codec in package fragment).
func EncodeJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "transport: encode envelope payload")
	}
	return b, nil
}

func DecodeJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "transport: decode envelope payload")
	}
	return nil
}
