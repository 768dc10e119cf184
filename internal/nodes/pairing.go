package nodes

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// NodePairingTTL bounds how long a node pairing code stays valid. Companion
// pairing is deliberately separate from session pairing: different code
// format (6 digits vs 6 hex) and a shorter TTL.
const NodePairingTTL = 5 * time.Minute

// PairingCode is one outstanding node pairing code. Codes are one-shot: a
// code validates at most once.
type PairingCode struct {
	Code      string
	ExpiresAt time.Time
	Used      bool
}

// ApprovedNode is a companion granted standing access, optionally with a
// shared secret for reconnection without a fresh code.
type ApprovedNode struct {
	NodeID       string    `json:"nodeId"`
	Name         string    `json:"name"`
	ApprovedAt   time.Time `json:"approvedAt"`
	SharedSecret string    `json:"sharedSecret,omitempty"`
}

// PairingManager issues and validates node pairing codes and keeps the
// approved-node set. Safe for concurrent use.
type PairingManager struct {
	mu            sync.Mutex
	activeCodes   map[string]*PairingCode
	approvedNodes map[string]ApprovedNode
	now           func() time.Time
}

// NewPairingManager creates an empty pairing manager.
func NewPairingManager() *PairingManager {
	return &PairingManager{
		activeCodes:   make(map[string]*PairingCode),
		approvedNodes: make(map[string]ApprovedNode),
		now:           time.Now,
	}
}

// Generate mints a 6-digit code valid for five minutes. Expired and used
// codes are swept opportunistically on each call.
func (p *PairingManager) Generate() string {
	code := randomDigitCode()

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for c, pc := range p.activeCodes {
		if pc.Used || now.After(pc.ExpiresAt) {
			delete(p.activeCodes, c)
		}
	}
	p.activeCodes[code] = &PairingCode{Code: code, ExpiresAt: now.Add(NodePairingTTL)}
	return code
}

// Validate consumes a code: it succeeds at most once per code, and expired
// codes are removed on sight.
func (p *PairingManager) Validate(code string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.activeCodes[code]
	if !ok || pc.Used {
		return false
	}
	if p.now().After(pc.ExpiresAt) {
		delete(p.activeCodes, code)
		return false
	}
	pc.Used = true
	return true
}

// ValidateSharedSecret reports whether any approved node holds the secret.
// Non-consuming: secrets support repeated reconnects.
func (p *PairingManager) ValidateSharedSecret(secret string) bool {
	if secret == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.approvedNodes {
		if n.SharedSecret != "" && n.SharedSecret == secret {
			return true
		}
	}
	return false
}

// Approve grants a node standing access.
func (p *PairingManager) Approve(nodeID, name, sharedSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approvedNodes[nodeID] = ApprovedNode{
		NodeID:       nodeID,
		Name:         name,
		ApprovedAt:   p.now(),
		SharedSecret: sharedSecret,
	}
}

// Remove revokes a node's approval.
func (p *PairingManager) Remove(nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.approvedNodes, nodeID)
}

// IsApproved reports whether the node has standing access.
func (p *PairingManager) IsApproved(nodeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.approvedNodes[nodeID]
	return ok
}

// Approved lists approved nodes.
func (p *PairingManager) Approved() []ApprovedNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ApprovedNode, 0, len(p.approvedNodes))
	for _, n := range p.approvedNodes {
		out = append(out, n)
	}
	return out
}

// activeCodeCount reports live (unused, unexpired) codes. Test hook.
func (p *PairingManager) activeCodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	now := p.now()
	for _, pc := range p.activeCodes {
		if !pc.Used && !now.After(pc.ExpiresAt) {
			n++
		}
	}
	return n
}

// randomDigitCode draws uniformly from [100000, 999999].
func randomDigitCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
