package domain

import (
	"strings"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// Subject identifies whose collections a request operates on: a signed-in
// user or an anonymous guest session.
type Subject struct {
	ID    string
	Guest bool
}

// User returns an authenticated subject.
func User(id string) Subject { return Subject{ID: id} }

// GuestSession returns a guest subject.
func GuestSession(id string) Subject { return Subject{ID: id, Guest: true} }

// Key is the storage key of the subject, e.g. "user:42" or "guest:abc".
func (s Subject) Key() string {
	if s.Guest {
		return "guest:" + s.ID
	}
	return "user:" + s.ID
}

func (s Subject) String() string { return s.Key() }

// Validate rejects an empty or oversized identifier.
func (s Subject) Validate() error {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return apperrors.Unauthorized("missing identity")
	}
	if len(id) > 128 || strings.ContainsAny(id, " \t\r\n:") {
		return apperrors.InvalidInput("malformed subject identifier")
	}
	return nil
}
