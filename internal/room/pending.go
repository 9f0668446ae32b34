package room

import "sync"

// PendingJoins tracks receivers that have announced interest in a room but
// have not yet been admitted (or rejected) by the sender.
type PendingJoins struct {
	mu     sync.Mutex
	byPeer map[PeerHandle]string // peer -> room
}

// NewPendingJoins creates an empty pending-join table.
func NewPendingJoins() *PendingJoins {
	return &PendingJoins{byPeer: make(map[PeerHandle]string)}
}

// Add records that peer is awaiting admission into roomID.
func (p *PendingJoins) Add(peer PeerHandle, roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byPeer[peer] = roomID
}

// Match reports whether peer has a pending join for roomID specifically —
// used to validate peer-accepted/peer-rejected against a real lobby entry.
func (p *PendingJoins) Match(peer PeerHandle, roomID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	got, ok := p.byPeer[peer]
	return ok && got == roomID
}

// Clear removes peer's pending join, if any.
func (p *PendingJoins) Clear(peer PeerHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byPeer, peer)
}
