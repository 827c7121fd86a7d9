package relay

import (
	"sort"
	"sync"
)

// Conn is one relay client. Send must be safe for concurrent use.
type Conn interface {
	ID() string
	Send(msg *Message) error
}

// Registry maps peer ids to the connection that registered them.
// A connection owns at most one id; the last registration of an id wins.
type Registry struct {
	mu     sync.Mutex
	byConn map[Conn]string
	byPeer map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[Conn]string),
		byPeer: make(map[string]Conn),
	}
}

// Register binds peerID to conn, superseding any previous owner of peerID
// and releasing any id conn held before.
func (r *Registry) Register(conn Conn, peerID string) error {
	if peerID == "" {
		return ErrInvalidPeerID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn]; ok && prev != peerID {
		if r.byPeer[prev] == conn {
			delete(r.byPeer, prev)
		}
	}

	r.byConn[conn] = peerID
	r.byPeer[peerID] = conn
	return nil
}

// Deregister removes whatever conn owns. Safe to call more than once.
func (r *Registry) Deregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	delete(r.byConn, conn)

	if r.byPeer[peerID] == conn {
		delete(r.byPeer, peerID)
	}
	return peerID, true
}

// PeerID returns the id conn registered with.
func (r *Registry) PeerID(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peerID, ok := r.byConn[conn]
	return peerID, ok
}

// Lookup returns the connection currently reachable as peerID.
func (r *Registry) Lookup(peerID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byPeer[peerID]
	return conn, ok
}

// Peers returns the reachable peer ids in sorted order.
func (r *Registry) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]string, 0, len(r.byPeer))
	for id := range r.byPeer {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPeer)
}
