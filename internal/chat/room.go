// Package chat implements the application semantics of the relay server: the
// per-connection lifecycle, identity changes, moderation, and the broadcast
// fan-out of chat and system messages to live sessions.
package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/relay/chat-app/internal/metrics"
	"github.com/relay/chat-app/internal/moderation"
	"github.com/relay/chat-app/internal/protocol"
	"github.com/relay/chat-app/internal/session"
)

// systemStyle is attached to every server-originated broadcast. The color is
// fixed; it doubles as the reserved color of the "Server" identity.
var systemStyle = protocol.Style{
	FontStyle: "italic",
	FontSize:  "smaller",
	Color:     session.SystemColor,
}

// Sender is the transport capability the room needs: deliver one prepared
// frame to one session. Implemented by ws.Server.
type Sender interface {
	SendMessage(sessionID string, data []byte) error
}

// RateLimiter throttles chat messages per session. A nil RateLimiter on the
// room disables throttling entirely.
type RateLimiter interface {
	Allow(ctx context.Context, sessionID string) (bool, error)
}

// Bridge relays broadcast frames to peer server instances. A nil Bridge on
// the room keeps all fan-out local.
type Bridge interface {
	PublishFrame(frame []byte) error
}

// Room wires the session registry, moderation filter, and transport together
// and drives the per-connection state machine: join, chat, rename, leave.
// Every handler runs on the calling connection's worker goroutine; the only
// shared state is the registry, which serializes its own mutations.
type Room struct {
	registry *session.Registry
	sender   Sender
	filter   *moderation.Filter
	limiter  RateLimiter
	bridge   Bridge
}

// NewRoom creates a Room over the given registry, transport, and filter.
func NewRoom(registry *session.Registry, sender Sender, filter *moderation.Filter) *Room {
	return &Room{
		registry: registry,
		sender:   sender,
		filter:   filter,
	}
}

// SetRateLimiter enables per-session message throttling.
func (r *Room) SetRateLimiter(l RateLimiter) { r.limiter = l }

// SetBridge enables cross-instance broadcast relaying.
func (r *Room) SetBridge(b Bridge) { r.bridge = b }

// Registry exposes the underlying session registry (used by ops endpoints).
func (r *Room) Registry() *session.Registry { return r.registry }

// HandleConnect moves a freshly upgraded connection into the active state:
// it allocates a default identity, sends the welcome notification to the new
// session alone, and announces the arrival to everyone.
func (r *Room) HandleConnect(id string) {
	sess := r.registry.Create(id)

	r.sendNotification(id, "Welcome, "+sess.Username+"!", sess)
	r.systemBroadcast(sess.Username + " has joined the chat")

	log.Printf("chat: session=%s joined as %q", id, sess.Username)
}

// HandleMessage runs the chat path: rate limit, censor, build the outbound
// envelope with the sender's current identity and a server timestamp, and
// fan out to every other live session. The sender never receives its own
// message back.
func (r *Room) HandleMessage(id string, text string) {
	sess, ok := r.registry.Get(id)
	if !ok {
		// Frame raced a disconnect; the session is gone.
		return
	}

	if r.limiter != nil {
		allowed, err := r.limiter.Allow(context.Background(), id)
		if err == nil && !allowed {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			r.sendError(id, "You are sending messages too quickly.")
			return
		}
	}

	if err := ValidateMessage(text); err != nil {
		r.sendError(id, err.Error())
		return
	}

	censored := r.filter.Censor(text)
	if censored != text {
		metrics.CensoredTotal.Inc()
	}

	frame, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.BroadcastMsg{
		Text:      censored,
		User:      protocol.UserInfo{Username: sess.Username, Color: sess.Color},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("chat: failed to build message frame session=%s: %v", id, err)
		return
	}

	metrics.MessagesTotal.WithLabelValues("chat").Inc()
	r.broadcastToOthers(frame, id)
}

// HandleSetUsername runs the rename path. On success the requester gets a
// confirmation notification and everyone gets a system announcement; on
// failure only the requester learns about it and the registry is unchanged.
func (r *Room) HandleSetUsername(id string, requested string) {
	oldName, sess, err := r.registry.Rename(id, requested)
	switch {
	case err == nil:
		metrics.RenamesTotal.WithLabelValues("ok").Inc()
		r.sendNotification(id, "Username changed to "+sess.Username, sess)
		r.systemBroadcast(oldName + " has changed their name to " + sess.Username)
		log.Printf("chat: session=%s renamed %q -> %q", id, oldName, sess.Username)

	case errors.Is(err, session.ErrUsernameEmpty), errors.Is(err, session.ErrUsernameTooLong):
		metrics.RenamesTotal.WithLabelValues("invalid").Inc()
		r.sendError(id, "Username must be between 1 and 24 characters.")

	default:
		metrics.RenamesTotal.WithLabelValues("taken").Inc()
		r.sendError(id, "Username is already taken or invalid.")
	}
}

// HandleDisconnect tears the session down and announces the departure. The
// state is terminal; the registry makes a second call for the same ID a
// no-op, so no duplicate announcement can be produced.
func (r *Room) HandleDisconnect(id string) {
	sess, ok := r.registry.Get(id)
	if !ok {
		return
	}
	r.registry.Unregister(id)
	r.systemBroadcast(sess.Username + " has left the chat")

	log.Printf("chat: session=%s (%q) left", id, sess.Username)
}

// DeliverFromPeer delivers a broadcast frame relayed by another server
// instance to every local session. The sender is never local, so nobody
// needs to be excluded.
func (r *Room) DeliverFromPeer(frame []byte) {
	r.deliver(frame, "")
}

// systemBroadcast sends a styled announcement attributed to the reserved
// "Server" identity to every live session, including the subject of the
// announcement. System text bypasses the moderation filter.
func (r *Room) systemBroadcast(text string) {
	style := systemStyle
	frame, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.BroadcastMsg{
		Text:      text,
		User:      protocol.UserInfo{Username: session.ReservedUsername, Color: session.SystemColor},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Style:     &style,
	})
	if err != nil {
		log.Printf("chat: failed to build system frame: %v", err)
		return
	}

	metrics.MessagesTotal.WithLabelValues("system").Inc()
	r.broadcastToAll(frame)
}

// broadcastToAll delivers frame to every live session.
func (r *Room) broadcastToAll(frame []byte) {
	r.deliver(frame, "")
	r.publish(frame)
}

// broadcastToOthers delivers frame to every live session except senderID.
func (r *Room) broadcastToOthers(frame []byte, senderID string) {
	r.deliver(frame, senderID)
	r.publish(frame)
}

// deliver fans frame out to the registry snapshot, skipping excludeID if
// non-empty. Delivery is best-effort and fire-and-forget per recipient: a
// session removed between snapshot and send produces a failed send, which is
// tolerated and never surfaced to the sender.
func (r *Room) deliver(frame []byte, excludeID string) {
	start := time.Now()
	for _, sess := range r.registry.Snapshot() {
		if sess.ID == excludeID {
			continue
		}
		if err := r.sender.SendMessage(sess.ID, frame); err != nil {
			log.Printf("chat: broadcast send failed session=%s: %v", sess.ID, err)
		}
	}
	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
}

// publish relays frame to peer instances when a bridge is configured.
// Relay failures are best-effort, like any other broadcast delivery.
func (r *Room) publish(frame []byte) {
	if r.bridge == nil {
		return
	}
	if err := r.bridge.PublishFrame(frame); err != nil {
		log.Printf("chat: bridge publish failed: %v", err)
	}
}

// sendNotification sends an identity confirmation to a single session.
func (r *Room) sendNotification(id string, text string, sess session.Session) {
	frame, err := protocol.NewServerMessage(protocol.TypeNotification, protocol.NotificationMsg{
		Text: text,
		User: protocol.UserInfo{Username: sess.Username, Color: sess.Color},
	})
	if err != nil {
		log.Printf("chat: failed to build notification session=%s: %v", id, err)
		return
	}

	metrics.MessagesTotal.WithLabelValues("notification").Inc()
	if err := r.sender.SendMessage(id, frame); err != nil {
		log.Printf("chat: failed to send notification session=%s: %v", id, err)
	}
}

// sendError reports a rejected request to the originating session only.
func (r *Room) sendError(id string, text string) {
	frame, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Text: text})
	if err != nil {
		log.Printf("chat: failed to build error session=%s: %v", id, err)
		return
	}

	metrics.MessagesTotal.WithLabelValues("error").Inc()
	if err := r.sender.SendMessage(id, frame); err != nil {
		log.Printf("chat: failed to send error session=%s: %v", id, err)
	}
}
