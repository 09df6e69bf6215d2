package session

import (
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// State is where a user sits in the session lifecycle:
//
//	NoSession -> SessionActive -> (timeout) -> SessionExpired -> NoSession
//
// Continuity detection only runs while a session is SessionActive.
type State int

const (
	NoSession State = iota
	SessionActive
	SessionExpired
)

func (s State) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionExpired:
		return "expired"
	default:
		return "none"
	}
}

// StateOf classifies sess at now. A session whose last activity is exactly
// timeout ago is already expired.
func StateOf(sess *store.Session, now time.Time, timeout time.Duration) State {
	if sess == nil || !sess.IsActive {
		return NoSession
	}
	if Expired(sess, now, timeout) {
		return SessionExpired
	}
	return SessionActive
}

// Expired reports whether now - sess.LastActivityAt >= timeout.
func Expired(sess *store.Session, now time.Time, timeout time.Duration) bool {
	return now.Sub(sess.LastActivityAt) >= timeout
}
