package ws

import (
	"net"
	"testing"
	"time"
)

func newTestConnection(id string, fd int) (*Connection, net.Conn) {
	server, client := net.Pipe()
	c := &Connection{
		ID:        id,
		Conn:      server,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	}
	return c, client
}

func TestConnectionManager_AddGetRemove(t *testing.T) {
	cm := NewConnectionManager()

	c1, peer1 := newTestConnection("a", 10)
	defer peer1.Close()
	c2, peer2 := newTestConnection("b", 11)
	defer peer2.Close()

	cm.Add(c1)
	cm.Add(c2)

	if cm.Count() != 2 {
		t.Fatalf("count = %d, want 2", cm.Count())
	}
	if got := cm.Get("a"); got != c1 {
		t.Fatalf("Get(a) = %v, want c1", got)
	}
	if got := cm.GetByFd(11); got != c2 {
		t.Fatalf("GetByFd(11) = %v, want c2", got)
	}

	if !cm.Remove("a") {
		t.Fatal("Remove(a) = false, want true")
	}
	if cm.Get("a") != nil {
		t.Fatal("connection a still present after Remove")
	}
	if cm.GetByFd(10) != nil {
		t.Fatal("fd 10 still present after Remove")
	}

	// Removing an absent connection reports false and does not panic.
	if cm.Remove("a") {
		t.Fatal("second Remove(a) = true, want false")
	}
}

func TestConnectionManager_AllIsSnapshot(t *testing.T) {
	cm := NewConnectionManager()

	c1, peer1 := newTestConnection("a", 20)
	defer peer1.Close()
	c2, peer2 := newTestConnection("b", 21)
	defer peer2.Close()

	cm.Add(c1)
	cm.Add(c2)

	all := cm.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d conns, want 2", len(all))
	}

	cm.Remove("b")
	if len(all) != 2 {
		t.Fatal("snapshot changed after Remove")
	}
	if len(cm.All()) != 1 {
		t.Fatal("new snapshot should reflect the removal")
	}
}
