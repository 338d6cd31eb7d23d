// Package session manages the identities of connected users. It owns the
// process-wide registry of live sessions, the username uniqueness index, and
// the allocation of default usernames and display colors.
package session

// Session binds a connection to a username and display color for its
// lifetime. The ID is opaque and assigned at connect time; the transport
// handle itself is owned by the ws layer, never by this package.
type Session struct {
	ID       string // connection/session ID (UUID)
	Username string // unique among live sessions, case-insensitively
	Color    string // immutable for the session's lifetime
}
