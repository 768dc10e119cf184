// Package nodes tracks the primary node and remote companion nodes: their
// capabilities, liveness, pairing approval, and the WebSocket connection
// lifecycle for companions.
package nodes

import (
	"runtime"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

// NodeType distinguishes the in-process primary from remote companions.
type NodeType string

const (
	NodePrimary   NodeType = "primary"
	NodeCompanion NodeType = "companion"
)

// NodeStatus is the registry's view of a node's liveness.
type NodeStatus string

const (
	StatusOnline     NodeStatus = "online"
	StatusOffline    NodeStatus = "offline"
	StatusConnecting NodeStatus = "connecting"
)

// Registry event names.
const (
	EventNodeConnected       = "connected"
	EventNodeDisconnected    = "disconnected"
	EventCapabilitiesChanged = "capabilities_changed"
)

// LocalNodeID is the fixed id of the auto-registered primary node.
const LocalNodeID = "local"

// NodeInfo describes one node.
type NodeInfo struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Type         NodeType              `json:"type"`
	Status       NodeStatus            `json:"status"`
	Capabilities []protocol.Capability `json:"capabilities"`
	Platform     protocol.PlatformInfo `json:"platform"`
	ConnectedAt  time.Time             `json:"connectedAt,omitempty"`
	LastSeen     time.Time             `json:"lastSeen,omitempty"`
}

func (n *NodeInfo) clone() *NodeInfo {
	c := *n
	c.Capabilities = append([]protocol.Capability(nil), n.Capabilities...)
	return &c
}

// HasCapability reports membership in the node's capability set.
func (n *NodeInfo) HasCapability(cap protocol.Capability) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry holds the local primary node plus zero or more companions. The
// primary is registered at construction with the locally detected platform
// and the default capability set, and can never be unregistered.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	order  []string // registration order, local first
	events *bus.Bus
	now    func() time.Time
}

// NewRegistry creates a registry with the local primary node registered.
func NewRegistry(events *bus.Bus) *Registry {
	if events == nil {
		events = bus.New()
	}
	r := &Registry{nodes: make(map[string]*NodeInfo), events: events, now: time.Now}

	local := &NodeInfo{
		ID:           LocalNodeID,
		Name:         "primary",
		Type:         NodePrimary,
		Status:       StatusOnline,
		Capabilities: protocol.DefaultPrimaryCapabilities(),
		Platform:     protocol.PlatformInfo{OS: runtime.GOOS, Arch: runtime.GOARCH},
		ConnectedAt:  r.now(),
		LastSeen:     r.now(),
	}
	r.nodes[local.ID] = local
	r.order = append(r.order, local.ID)
	return r
}

// Events exposes the registry's event bus.
func (r *Registry) Events() *bus.Bus { return r.events }

// Register inserts or replaces a node and emits "connected".
func (r *Registry) Register(info NodeInfo) {
	r.mu.Lock()
	if _, exists := r.nodes[info.ID]; !exists {
		r.order = append(r.order, info.ID)
	}
	stored := info
	r.nodes[info.ID] = &stored
	r.mu.Unlock()

	r.events.Emit(bus.Event{Name: EventNodeConnected, Payload: info.clone()})
}

// Unregister removes a node; removing the local primary is refused.
func (r *Registry) Unregister(id string) error {
	if id == LocalNodeID {
		return errdefs.New(errdefs.CodeBadRequest, "cannot unregister the local node")
	}

	r.mu.Lock()
	info, ok := r.nodes[id]
	if ok {
		delete(r.nodes, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return errdefs.New(errdefs.CodeNodeNotFound, id)
	}
	r.events.Emit(bus.Event{Name: EventNodeDisconnected, Payload: info.clone()})
	return nil
}

// UpdateStatus sets a node's status and refreshes LastSeen.
func (r *Registry) UpdateStatus(id string, status NodeStatus) error {
	r.mu.Lock()
	info, ok := r.nodes[id]
	if ok {
		info.Status = status
		info.LastSeen = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return errdefs.New(errdefs.CodeNodeNotFound, id)
	}
	return nil
}

// UpdateCapabilities replaces a node's capability set and emits
// "capabilities_changed".
func (r *Registry) UpdateCapabilities(id string, caps []protocol.Capability) error {
	r.mu.Lock()
	info, ok := r.nodes[id]
	var snapshot *NodeInfo
	if ok {
		info.Capabilities = append([]protocol.Capability(nil), caps...)
		info.LastSeen = r.now()
		snapshot = info.clone()
	}
	r.mu.Unlock()
	if !ok {
		return errdefs.New(errdefs.CodeNodeNotFound, id)
	}
	r.events.Emit(bus.Event{Name: EventCapabilitiesChanged, Payload: snapshot})
	return nil
}

// Get returns a node by id.
func (r *Registry) Get(id string) (*NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return info.clone(), true
}

// All returns every node in registration order, local first.
func (r *Registry) All() []*NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NodeInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id].clone())
	}
	return out
}

// Online returns nodes whose status is online, in registration order.
func (r *Registry) Online() []*NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*NodeInfo
	for _, id := range r.order {
		if n := r.nodes[id]; n.Status == StatusOnline {
			out = append(out, n.clone())
		}
	}
	return out
}

// ByCapability returns online nodes offering cap, in registration order.
func (r *Registry) ByCapability(cap protocol.Capability) []*NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*NodeInfo
	for _, id := range r.order {
		if n := r.nodes[id]; n.Status == StatusOnline && n.HasCapability(cap) {
			out = append(out, n.clone())
		}
	}
	return out
}

// BestForCapability prefers the local node when it offers cap, else the
// first online companion that does. GW-NODE-003 when nothing matches.
func (r *Registry) BestForCapability(cap protocol.Capability) (*NodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if local := r.nodes[LocalNodeID]; local.Status == StatusOnline && local.HasCapability(cap) {
		return local.clone(), nil
	}
	for _, id := range r.order {
		if id == LocalNodeID {
			continue
		}
		if n := r.nodes[id]; n.Status == StatusOnline && n.HasCapability(cap) {
			return n.clone(), nil
		}
	}
	return nil, errdefs.New(errdefs.CodeNodeMissingCapability, string(cap))
}
