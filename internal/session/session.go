// Package session implements the receiver-side session lifecycle: at most
// one ActiveSession at a time, file token issuance, and idle expiry. Only
// one sending peer is ever accepted at once; a second register attempt
// while a session is live is rejected rather than queued.
package session

import (
	"sync"
	"time"

	"github.com/localshare-go/localshare/internal/errs"
	"github.com/localshare-go/localshare/internal/protocol"
)

// IdleTimeout is how long a session may sit without activity before Reap
// drops it.
const IdleTimeout = 5 * time.Minute

// EventKind tags the variant of a ReceiverEvent.
type EventKind int

const (
	SessionStarted EventKind = iota
	FileCompleted
	SessionEnded
)

// ReceiverEvent is pushed to a caller-supplied channel rather than handed
// out via a back-pointer from Manager to Receiver, per the "pass a callback
// or channel" design note.
type ReceiverEvent struct {
	Kind      EventKind
	SessionId protocol.SessionId
	FileId    protocol.FileId
	Path      string
	Reason    string
}

// ActiveSession is the single authorisation context a Manager may hold.
type ActiveSession struct {
	Id             protocol.SessionId
	Peer           protocol.DeviceInfo
	Files          protocol.FileMetas
	Tokens         protocol.FileTokens
	Completed      map[protocol.FileId]bool
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (s *ActiveSession) isComplete() bool {
	for id := range s.Files {
		if !s.Completed[id] {
			return false
		}
	}
	return true
}

// Manager owns the single ActiveSession slot for one Receiver. It is never
// a package-level singleton — each Receiver constructs its own.
type Manager struct {
	mu      sync.RWMutex
	current *ActiveSession
	events  chan<- ReceiverEvent

	fileLocksMu sync.Mutex
	fileLocks   map[protocol.FileId]*sync.Mutex
}

// New constructs a Manager. events may be nil if the caller doesn't need
// lifecycle notifications.
func New(events chan<- ReceiverEvent) *Manager {
	return &Manager{events: events}
}

func (m *Manager) emit(ev ReceiverEvent) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Manager) liveLocked(now time.Time) bool {
	return m.current != nil && now.Sub(m.current.LastActivityAt) <= IdleTimeout
}

// BeginSession creates a new ActiveSession for peer offering files under
// sessionId, unless a live session already occupies the slot.
func (m *Manager) BeginSession(sessionId protocol.SessionId, peer protocol.DeviceInfo, files protocol.FileMetas) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(now) {
		return errs.ErrSessionBusy
	}

	m.current = &ActiveSession{
		Id:             sessionId,
		Peer:           peer,
		Files:          files,
		Tokens:         protocol.FileTokens{},
		Completed:      map[protocol.FileId]bool{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.fileLocksMu.Lock()
	m.fileLocks = map[protocol.FileId]*sync.Mutex{}
	m.fileLocksMu.Unlock()

	m.emit(ReceiverEvent{Kind: SessionStarted, SessionId: sessionId})
	return nil
}

// LockFile returns an unlock function serialising concurrent /upload calls
// for the same fileId: a second caller's Lock blocks until the first either
// commits or aborts (i.e. until it calls the returned unlock). Must be
// called before ConsumeUpload, and the returned func deferred so it runs
// after the upload's outcome is recorded via FinishUpload.
func (m *Manager) LockFile(fileId protocol.FileId) func() {
	m.fileLocksMu.Lock()
	l, ok := m.fileLocks[fileId]
	if !ok {
		l = &sync.Mutex{}
		if m.fileLocks == nil {
			m.fileLocks = map[protocol.FileId]*sync.Mutex{}
		}
		m.fileLocks[fileId] = l
	}
	m.fileLocksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Authorise issues fresh tokens for the requested subset of a live
// session's files. Unknown fileIds are silently omitted from the result.
// A repeated call replaces all prior tokens for the session.
func (m *Manager) Authorise(sessionId protocol.SessionId, files protocol.FileMetas) (protocol.FileTokens, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked(now) || m.current.Id != sessionId {
		return nil, errs.ErrAuthorisation
	}

	tokens := protocol.FileTokens{}
	for id := range files {
		if _, known := m.current.Files[id]; !known {
			continue
		}
		tokens[id] = protocol.NewToken()
	}
	m.current.Tokens = tokens
	m.current.LastActivityAt = now
	return tokens, nil
}

// ConsumeUpload validates a token presented to /upload without marking the
// file complete — completion is recorded explicitly via FinishUpload once
// the body has actually been written.
func (m *Manager) ConsumeUpload(sessionId protocol.SessionId, fileId protocol.FileId, token protocol.Token) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked(now) || m.current.Id != sessionId {
		return &errs.RejectError{Reason: "no matching active session"}
	}
	if m.current.Completed[fileId] {
		return &errs.RejectError{Reason: "file already completed"}
	}
	want, ok := m.current.Tokens[fileId]
	if !ok || want != token {
		return &errs.RejectError{Reason: "invalid or unknown token"}
	}
	m.current.LastActivityAt = now
	return nil
}

// FinishUpload records the outcome of an upload attempt. On commit=true the
// file is marked completed and, once every file is completed, the session
// is cleared and a SessionEnded event fires.
func (m *Manager) FinishUpload(sessionId protocol.SessionId, fileId protocol.FileId, commit bool, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Id != sessionId {
		return
	}
	if !commit {
		return
	}

	m.current.Completed[fileId] = true
	m.current.LastActivityAt = time.Now()
	m.emit(ReceiverEvent{Kind: FileCompleted, SessionId: sessionId, FileId: fileId, Path: path})

	if m.current.isComplete() {
		m.emit(ReceiverEvent{Kind: SessionEnded, SessionId: sessionId, Reason: "completed"})
		m.current = nil
	}
}

// Cancel clears the session unconditionally if it matches sessionId.
// Calling Cancel on a session that's already gone is a no-op, matching the
// spec's idempotence requirement.
func (m *Manager) Cancel(sessionId protocol.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Id != sessionId {
		return
	}
	m.current = nil
	m.emit(ReceiverEvent{Kind: SessionEnded, SessionId: sessionId, Reason: "cancelled"})
}

// Reap drops the current session if it has been idle past IdleTimeout.
// Intended to be called periodically by the Receiver's gc loop.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	if time.Since(m.current.LastActivityAt) > IdleTimeout {
		sid := m.current.Id
		m.current = nil
		m.emit(ReceiverEvent{Kind: SessionEnded, SessionId: sid, Reason: "idle-timeout"})
	}
}

// Snapshot returns a shallow copy of the current ActiveSession for
// diagnostics, or nil if the slot is empty or expired. Handlers that need
// to stream data take this snapshot and release the lock before touching
// storage, never holding the mutex across I/O.
func (m *Manager) Snapshot() *ActiveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.liveLocked(time.Now()) {
		return nil
	}
	cp := *m.current
	return &cp
}
