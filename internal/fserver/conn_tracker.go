package fserver

import (
	"net"
	"sync"
)

// connTracker tracks in-flight connections so Stop can close every one of
// them, unblocking any connection task parked in a read (handshake or
// request loop) rather than waiting for it to time out on its own.
type connTracker struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[net.Conn]struct{})}
}

func (t *connTracker) add(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[conn] = struct{}{}
}

func (t *connTracker) remove(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, conn)
}

// closeAll closes every tracked connection and resets the tracker.
func (t *connTracker) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for conn := range t.conns {
		conn.Close()
	}
	t.conns = make(map[net.Conn]struct{})
}
