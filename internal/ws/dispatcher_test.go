package ws

import (
	"testing"

	"github.com/relay/chat-app/internal/protocol"
)

func TestDispatcher_RoutesByType(t *testing.T) {
	d := NewMessageDispatcher()
	conn := &Connection{ID: "sess-1"}

	var gotChat *protocol.ChatMsg
	var gotRename *protocol.SetUsernameMsg

	d.Register(protocol.TypeMessage, func(c *Connection, msg interface{}) {
		m := msg.(protocol.ChatMsg)
		gotChat = &m
	})
	d.Register(protocol.TypeSetUsername, func(c *Connection, msg interface{}) {
		m := msg.(protocol.SetUsernameMsg)
		gotRename = &m
	})

	d.Dispatch(conn, []byte(`{"type":"message","text":"hi"}`))
	if gotChat == nil || gotChat.Text != "hi" {
		t.Fatalf("chat handler not invoked correctly: %+v", gotChat)
	}

	d.Dispatch(conn, []byte(`{"type":"setUsername","username":"Bob"}`))
	if gotRename == nil || gotRename.Username != "Bob" {
		t.Fatalf("rename handler not invoked correctly: %+v", gotRename)
	}
}

func TestDispatcher_SilentlyDropsBadFrames(t *testing.T) {
	d := NewMessageDispatcher()
	conn := &Connection{ID: "sess-1"}

	invoked := false
	d.Register(protocol.TypeMessage, func(c *Connection, msg interface{}) {
		invoked = true
	})

	// None of these may panic, reply, or reach a handler.
	for _, frame := range []string{
		`{broken`,
		`{"type":"unknown_kind"}`,
		`{"no":"type"}`,
		``,
	} {
		d.Dispatch(conn, []byte(frame))
	}

	if invoked {
		t.Fatal("handler invoked for an unroutable frame")
	}
}

func TestDispatcher_UnregisteredTypeDropped(t *testing.T) {
	d := NewMessageDispatcher()
	conn := &Connection{ID: "sess-1"}

	// "message" is a valid protocol type but has no handler here.
	d.Dispatch(conn, []byte(`{"type":"message","text":"hi"}`))
	// Reaching this point without a panic is the assertion.
}
