package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Process is a cancellable unit of external work, typically a running
// ffmpeg subprocess.
type Process interface {
	// Terminate asks the process to stop gracefully.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
	// Done is closed once the process has fully exited.
	Done() <-chan struct{}
}

type sessionState struct {
	mu        sync.Mutex
	cancelled bool
	procs     map[Process]struct{}
}

// sessionID keys sessions by both parts. A composite struct key keeps
// users with lookalike names (say "alice" and "alice_1") fully apart,
// which a joined string cannot guarantee.
type sessionID struct {
	userID     string
	sessionKey string
}

// Registry tracks in-flight sessions per user so that a cancel request can
// flip the flag, terminate attached subprocesses, and stay sticky for
// anything that attaches afterwards.
type Registry struct {
	log      *logrus.Entry
	grace    time.Duration
	mu       sync.Mutex
	sessions map[sessionID]*sessionState
}

// NewRegistry builds a Registry. grace is how long a terminated process
// gets before it is killed outright.
func NewRegistry(log *logrus.Entry, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = time.Second
	}
	return &Registry{
		log:      log,
		grace:    grace,
		sessions: make(map[sessionID]*sessionState),
	}
}

// id builds the composite key. An empty session key maps to "default"
// so single-session callers need not invent one.
func id(userID, sessionKey string) sessionID {
	if sessionKey == "" {
		sessionKey = "default"
	}
	return sessionID{userID: userID, sessionKey: sessionKey}
}

// BeginSession registers a fresh, uncancelled session, replacing any
// previous state under the same key.
func (r *Registry) BeginSession(userID, sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id(userID, sessionKey)] = &sessionState{
		procs: make(map[Process]struct{}),
	}
}

// IsCancelled reports whether the session has been cancelled. Unknown
// sessions are not cancelled.
func (r *Registry) IsCancelled(userID, sessionKey string) bool {
	r.mu.Lock()
	st := r.sessions[id(userID, sessionKey)]
	r.mu.Unlock()
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cancelled
}

// AttachProcess ties a running process to the session so a later cancel
// can stop it. If the session is already cancelled the process is
// terminated immediately and false is returned.
func (r *Registry) AttachProcess(userID, sessionKey string, p Process) bool {
	r.mu.Lock()
	st := r.sessions[id(userID, sessionKey)]
	r.mu.Unlock()
	if st == nil {
		return false
	}

	st.mu.Lock()
	if st.cancelled {
		st.mu.Unlock()
		r.stop(p)
		return false
	}
	st.procs[p] = struct{}{}
	st.mu.Unlock()
	return true
}

// DetachProcess removes a process that has exited on its own.
func (r *Registry) DetachProcess(userID, sessionKey string, p Process) {
	r.mu.Lock()
	st := r.sessions[id(userID, sessionKey)]
	r.mu.Unlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.procs, p)
	st.mu.Unlock()
}

// Cancel flips the session's cancel flag and stops every attached
// process. It returns true if the session existed and was not already
// cancelled. Cancel never errors; a stubborn process is killed after the
// grace period.
func (r *Registry) Cancel(userID, sessionKey string) bool {
	r.mu.Lock()
	st := r.sessions[id(userID, sessionKey)]
	r.mu.Unlock()
	if st == nil {
		return false
	}

	st.mu.Lock()
	if st.cancelled {
		st.mu.Unlock()
		return false
	}
	st.cancelled = true
	procs := make([]Process, 0, len(st.procs))
	for p := range st.procs {
		procs = append(procs, p)
	}
	st.procs = make(map[Process]struct{})
	st.mu.Unlock()

	for _, p := range procs {
		r.stop(p)
	}
	r.log.WithFields(logrus.Fields{
		"user":      userID,
		"session":   sessionKey,
		"processes": len(procs),
	}).Info("session cancelled")
	return true
}

// CancelAll cancels every active session of a user and returns how many
// were newly cancelled.
func (r *Registry) CancelAll(userID string) int {
	r.mu.Lock()
	var keys []string
	for k := range r.sessions {
		if k.userID == userID {
			keys = append(keys, k.sessionKey)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, sessionKey := range keys {
		if r.Cancel(userID, sessionKey) {
			n++
		}
	}
	return n
}

// EndSession drops the session entirely. Any still-attached processes are
// left running; the caller owns their lifecycle at this point.
func (r *Registry) EndSession(userID, sessionKey string) {
	r.mu.Lock()
	delete(r.sessions, id(userID, sessionKey))
	r.mu.Unlock()
}

// stop terminates p, waits out the grace period, then kills it.
func (r *Registry) stop(p Process) {
	if err := p.Terminate(); err != nil {
		r.log.WithError(err).Debug("terminate failed, killing")
		_ = p.Kill()
		return
	}
	select {
	case <-p.Done():
	case <-time.After(r.grace):
		_ = p.Kill()
	}
}
