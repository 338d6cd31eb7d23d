package session

import (
	"errors"
	"strings"
	"sync"
)

// Registry mutation errors. ErrUsernameEmpty and ErrUsernameTooLong are the
// validation failures; ErrUsernameTaken covers collisions (case-insensitive)
// and the reserved server name.
var (
	ErrUsernameEmpty   = errors.New("session: username is empty")
	ErrUsernameTooLong = errors.New("session: username exceeds length limit")
	ErrUsernameTaken   = errors.New("session: username already taken or reserved")
)

// Registry is the authoritative, goroutine-safe collection of live sessions
// plus the derived username index. All mutations are serialized under a
// single mutex; Snapshot observes a consistent point-in-time state.
//
// The username index is keyed by the lower-cased name so that uniqueness is
// case-insensitive, while the session record keeps the original casing.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session // session ID -> session
	names    map[string]string  // lower(username) -> session ID
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		names:    make(map[string]string),
	}
}

// Create allocates a default identity (unique username, random color) for the
// given session ID and registers it atomically. Generation and insertion
// happen under the same lock, so a concurrent Create can never observe the
// candidate name as free and race the claim.
func (r *Registry) Create(id string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := Session{
		ID:       id,
		Username: GenerateUsername(r.nameInUseLocked),
		Color:    GenerateColor(),
	}
	r.sessions[id] = sess
	r.names[strings.ToLower(sess.Username)] = id
	return sess
}

// Register inserts a session with an already-chosen username. It fails with
// ErrUsernameTaken if the username is in use (case-insensitive) or is the
// reserved server name; on failure nothing is mutated.
func (r *Registry) Register(sess Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nameInUseLocked(sess.Username) {
		return ErrUsernameTaken
	}
	r.sessions[sess.ID] = sess
	r.names[strings.ToLower(sess.Username)] = sess.ID
	return nil
}

// Unregister removes the session and frees its username. Unregistering an
// already-absent ID is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	delete(r.names, strings.ToLower(sess.Username))
}

// Rename validates newName and, on success, atomically frees the old
// username, claims the new one, and updates the session record. It returns
// the previous username alongside the updated session so callers can build
// the rename announcement. On failure the registry is unchanged and the
// returned error is one of ErrUsernameEmpty, ErrUsernameTooLong, or
// ErrUsernameTaken (which also covers an unknown session ID and a rename to
// a name differing only in case from an existing one, including the
// caller's own).
func (r *Registry) Rename(id, newName string) (oldName string, sess Session, err error) {
	trimmed, err := ValidateUsername(newName)
	if err != nil {
		return "", Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return "", Session{}, ErrUsernameTaken
	}
	if r.nameInUseLocked(trimmed) {
		return "", Session{}, ErrUsernameTaken
	}

	oldName = sess.Username
	delete(r.names, strings.ToLower(oldName))
	sess.Username = trimmed
	r.sessions[id] = sess
	r.names[strings.ToLower(trimmed)] = id
	return oldName, sess, nil
}

// Get returns the session for the given ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Snapshot returns a point-in-time copy of all live sessions, used as the
// recipient set for broadcasts. Mutations after the snapshot is taken are
// not reflected.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// nameInUseLocked reports whether name is claimed by any live session or is
// the reserved server name. Callers must hold r.mu.
func (r *Registry) nameInUseLocked(name string) bool {
	lower := strings.ToLower(name)
	if lower == strings.ToLower(ReservedUsername) {
		return true
	}
	_, used := r.names[lower]
	return used
}
