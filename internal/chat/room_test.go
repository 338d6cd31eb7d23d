package chat

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relay/chat-app/internal/moderation"
	"github.com/relay/chat-app/internal/protocol"
	"github.com/relay/chat-app/internal/session"
)

// fakeSender records every frame delivered per session and can be told to
// fail sends to specific sessions.
type fakeSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	fail   map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		frames: make(map[string][][]byte),
		fail:   make(map[string]bool),
	}
}

func (s *fakeSender) SendMessage(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return errors.New("connection mid-teardown")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames[id] = append(s.frames[id], cp)
	return nil
}

// received decodes all frames delivered to a session.
func (s *fakeSender) received(t *testing.T, id string) []map[string]interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(s.frames[id]))
	for _, frame := range s.frames[id] {
		var m map[string]interface{}
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("session %s received invalid frame %s: %v", id, frame, err)
		}
		out = append(out, m)
	}
	return out
}

// lastOfType returns the most recent frame of the given type delivered to a
// session, or nil.
func (s *fakeSender) lastOfType(t *testing.T, id, msgType string) map[string]interface{} {
	t.Helper()
	msgs := s.received(t, id)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	return nil
}

func (s *fakeSender) countOfType(t *testing.T, id, msgType string) int {
	t.Helper()
	n := 0
	for _, m := range s.received(t, id) {
		if m["type"] == msgType {
			n++
		}
	}
	return n
}

func newTestRoom(terms ...string) (*Room, *fakeSender) {
	if len(terms) == 0 {
		terms = []string{"bad"}
	}
	sender := newFakeSender()
	room := NewRoom(session.NewRegistry(), sender, moderation.NewFilterWithTerms(terms))
	return room, sender
}

func TestRoom_ConnectSendsWelcomeAndAnnouncesJoin(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")

	welcome := sender.lastOfType(t, "a", protocol.TypeNotification)
	if welcome == nil {
		t.Fatal("session a received no welcome notification")
	}
	user := welcome["user"].(map[string]interface{})
	name, _ := user["username"].(string)
	if matched, _ := regexp.MatchString(`^User\d+$`, name); !matched {
		t.Fatalf("assigned username %q does not match User<digits>", name)
	}
	if !strings.Contains(welcome["text"].(string), name) {
		t.Errorf("welcome text %q does not mention %q", welcome["text"], name)
	}

	// The join announcement reaches everyone, including the new session.
	room.HandleConnect("b")
	joined := sender.lastOfType(t, "a", protocol.TypeMessage)
	if joined == nil {
		t.Fatal("session a did not receive the join announcement for b")
	}
	announcer := joined["user"].(map[string]interface{})
	if announcer["username"] != session.ReservedUsername {
		t.Errorf("announcement attributed to %v, want Server", announcer["username"])
	}
	if joined["style"] == nil {
		t.Error("system announcement carries no style")
	}
	if sender.lastOfType(t, "b", protocol.TypeMessage) == nil {
		t.Error("join announcement did not reach the subject itself")
	}
}

func TestRoom_ChatGoesToOthersOnlyAndIsCensored(t *testing.T) {
	room, sender := newTestRoom("bad")

	room.HandleConnect("a")
	room.HandleConnect("b")
	room.HandleConnect("c")

	beforeA := sender.countOfType(t, "a", protocol.TypeMessage)

	room.HandleMessage("a", "bad idea")

	for _, id := range []string{"b", "c"} {
		msg := sender.lastOfType(t, id, protocol.TypeMessage)
		if msg == nil {
			t.Fatalf("session %s received no chat message", id)
		}
		if msg["text"] != "**** idea" {
			t.Errorf("session %s got text %q, want %q", id, msg["text"], "**** idea")
		}
		if msg["style"] != nil {
			t.Errorf("chat message to %s carries a style", id)
		}
		if _, err := time.Parse(time.RFC3339, msg["timestamp"].(string)); err != nil {
			t.Errorf("bad timestamp on chat message: %v", err)
		}
	}

	// No echo to the sender.
	if got := sender.countOfType(t, "a", protocol.TypeMessage); got != beforeA {
		t.Errorf("sender received its own message: %d frames, want %d", got, beforeA)
	}

	// Exactly once per recipient.
	aName := mustUsername(t, room, "a")
	for _, id := range []string{"b", "c"} {
		n := 0
		for _, m := range sender.received(t, id) {
			if m["type"] == protocol.TypeMessage {
				if u, ok := m["user"].(map[string]interface{}); ok && u["username"] == aName {
					n++
				}
			}
		}
		if n != 1 {
			t.Errorf("session %s received a's message %d times, want 1", id, n)
		}
	}
}

func TestRoom_RenameSuccessNotifiesAndAnnounces(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	room.HandleConnect("b")
	oldName := mustUsername(t, room, "b")

	room.HandleSetUsername("b", "Bob")

	note := sender.lastOfType(t, "b", protocol.TypeNotification)
	if note == nil || !strings.Contains(note["text"].(string), "Bob") {
		t.Fatalf("requester got no rename confirmation: %v", note)
	}

	announcement := sender.lastOfType(t, "a", protocol.TypeMessage)
	if announcement == nil {
		t.Fatal("others did not receive the rename announcement")
	}
	text := announcement["text"].(string)
	if !strings.Contains(text, oldName) || !strings.Contains(text, "Bob") {
		t.Errorf("announcement %q does not mention %q and %q", text, oldName, "Bob")
	}

	// The announcement also reaches the subject.
	if got := sender.lastOfType(t, "b", protocol.TypeMessage); got == nil {
		t.Error("rename announcement did not reach the renamed session")
	}
}

func TestRoom_RenameFailuresReachRequesterOnly(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	room.HandleConnect("b")
	aName := mustUsername(t, room, "a")

	tests := []struct {
		name      string
		requested string
	}{
		{"taken name", aName},
		{"taken case variant", strings.ToUpper(aName)},
		{"reserved name", "Server"},
		{"empty", "   "},
		{"too long", strings.Repeat("x", 25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beforeB := mustUsername(t, room, "b")
			beforeErrs := sender.countOfType(t, "a", protocol.TypeError)

			room.HandleSetUsername("b", tt.requested)

			if sender.lastOfType(t, "b", protocol.TypeError) == nil {
				t.Fatal("requester received no error")
			}
			if got := sender.countOfType(t, "a", protocol.TypeError); got != beforeErrs {
				t.Error("error leaked to another session")
			}
			if now := mustUsername(t, room, "b"); now != beforeB {
				t.Errorf("failed rename mutated registry: %q -> %q", beforeB, now)
			}
		})
	}
}

func TestRoom_DisconnectAnnouncesDepartureOnce(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	room.HandleConnect("b")
	bName := mustUsername(t, room, "b")

	room.HandleDisconnect("b")

	left := sender.lastOfType(t, "a", protocol.TypeMessage)
	if left == nil || !strings.Contains(left["text"].(string), bName) {
		t.Fatalf("departure announcement missing or wrong: %v", left)
	}
	if _, ok := room.Registry().Get("b"); ok {
		t.Error("session b still registered after disconnect")
	}

	// A second teardown for the same session is silent.
	before := sender.countOfType(t, "a", protocol.TypeMessage)
	room.HandleDisconnect("b")
	if got := sender.countOfType(t, "a", protocol.TypeMessage); got != before {
		t.Error("duplicate disconnect produced a second announcement")
	}
}

func TestRoom_BroadcastToleratesFailedRecipients(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	room.HandleConnect("b")
	room.HandleConnect("c")

	// b's connection is mid-teardown; sends to it fail.
	sender.mu.Lock()
	sender.fail["b"] = true
	sender.mu.Unlock()

	room.HandleMessage("a", "hello everyone")

	msg := sender.lastOfType(t, "c", protocol.TypeMessage)
	if msg == nil || msg["text"] != "hello everyone" {
		t.Fatalf("delivery to c aborted by b's failure: %v", msg)
	}
	// The sender is not told about b's failure.
	if sender.lastOfType(t, "a", protocol.TypeError) != nil {
		t.Error("send failure surfaced to the sender")
	}
}

func TestRoom_MessageFromUnknownSessionIsDropped(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	before := len(sender.received(t, "a"))

	room.HandleMessage("ghost", "boo")

	if got := len(sender.received(t, "a")); got != before {
		t.Error("message from unregistered session was delivered")
	}
}

func TestRoom_EmptyMessageRejected(t *testing.T) {
	room, sender := newTestRoom()

	room.HandleConnect("a")
	room.HandleConnect("b")
	beforeB := sender.countOfType(t, "b", protocol.TypeMessage)

	room.HandleMessage("a", "")

	if sender.lastOfType(t, "a", protocol.TypeError) == nil {
		t.Error("sender got no error for empty message")
	}
	if got := sender.countOfType(t, "b", protocol.TypeMessage); got != beforeB {
		t.Error("empty message was broadcast anyway")
	}
}

type fakeLimiter struct {
	allow bool
}

func (l *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	return l.allow, nil
}

func TestRoom_RateLimitedSenderGetsError(t *testing.T) {
	room, sender := newTestRoom()
	room.SetRateLimiter(&fakeLimiter{allow: false})

	room.HandleConnect("a")
	room.HandleConnect("b")
	beforeB := sender.countOfType(t, "b", protocol.TypeMessage)

	room.HandleMessage("a", "spam spam")

	errMsg := sender.lastOfType(t, "a", protocol.TypeError)
	if errMsg == nil {
		t.Fatal("rate limited sender got no error")
	}
	if got := sender.countOfType(t, "b", protocol.TypeMessage); got != beforeB {
		t.Error("rate limited message was broadcast anyway")
	}
}

type fakeBridge struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *fakeBridge) PublishFrame(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.frames = append(b.frames, cp)
	return nil
}

func TestRoom_BridgeRelaysBroadcasts(t *testing.T) {
	room, sender := newTestRoom()
	bridge := &fakeBridge{}
	room.SetBridge(bridge)

	room.HandleConnect("a")
	room.HandleConnect("b")
	room.HandleMessage("a", "hello")

	bridge.mu.Lock()
	published := len(bridge.frames)
	bridge.mu.Unlock()
	if published == 0 {
		t.Fatal("no frames relayed to the bridge")
	}

	// A frame arriving from a peer instance reaches every local session.
	peerFrame := []byte(`{"type":"message","text":"from afar","user":{"username":"Remote","color":"#2ecc71"},"timestamp":"2026-01-02T15:04:05Z"}`)
	room.DeliverFromPeer(peerFrame)

	for _, id := range []string{"a", "b"} {
		msg := sender.lastOfType(t, id, protocol.TypeMessage)
		if msg == nil || msg["text"] != "from afar" {
			t.Errorf("peer frame did not reach session %s: %v", id, msg)
		}
	}
}

// TestRoom_Scenario replays the end-to-end exchange: default identity on
// join, rejected and successful renames, and censored chat fan-out.
func TestRoom_Scenario(t *testing.T) {
	room, sender := newTestRoom("bad")

	// A connects and receives a notification with a generated username.
	room.HandleConnect("A")
	welcome := sender.lastOfType(t, "A", protocol.TypeNotification)
	if welcome == nil {
		t.Fatal("A received no welcome")
	}
	aName := welcome["user"].(map[string]interface{})["username"].(string)
	if matched, _ := regexp.MatchString(`^User\d+$`, aName); !matched {
		t.Fatalf("A's generated username %q does not match User<digits>", aName)
	}

	// B connects and tries to take A's name.
	room.HandleConnect("B")
	room.HandleSetUsername("B", aName)
	if sender.lastOfType(t, "B", protocol.TypeError) == nil {
		t.Fatal("B's rename to a taken name was not rejected")
	}
	if mustUsername(t, room, "A") != aName {
		t.Fatal("registry changed after rejected rename")
	}

	// B renames to Bob; B is notified, A sees the announcement.
	room.HandleSetUsername("B", "Bob")
	note := sender.lastOfType(t, "B", protocol.TypeNotification)
	if note == nil || !strings.Contains(note["text"].(string), "Bob") {
		t.Fatalf("B got no rename confirmation: %v", note)
	}
	announcement := sender.lastOfType(t, "A", protocol.TypeMessage)
	if announcement == nil || !strings.Contains(announcement["text"].(string), "Bob") {
		t.Fatalf("A did not see the rename announcement: %v", announcement)
	}

	// A chats with a denylisted word; B sees it censored, A gets no echo.
	beforeA := sender.countOfType(t, "A", protocol.TypeMessage)
	room.HandleMessage("A", "bad idea")

	msg := sender.lastOfType(t, "B", protocol.TypeMessage)
	if msg == nil || msg["text"] != "**** idea" {
		t.Fatalf("B got %v, want censored %q", msg, "**** idea")
	}
	if got := sender.countOfType(t, "A", protocol.TypeMessage); got != beforeA {
		t.Error("A received its own message back")
	}
}

func mustUsername(t *testing.T, room *Room, id string) string {
	t.Helper()
	sess, ok := room.Registry().Get(id)
	if !ok {
		t.Fatalf("session %s not registered", id)
	}
	return sess.Username
}
