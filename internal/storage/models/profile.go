package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ProfileKind identifies how a profile participates in a merge chain.
type ProfileKind string

const (
	KindRemote ProfileKind = "remote" // fetched from a URL
	KindLocal  ProfileKind = "local"  // imported from disk or inline
	KindMerge  ProfileKind = "merge"  // override document applied on top of a base
	KindScript ProfileKind = "script" // transformation script applied on top of a base
)

// Valid reports whether k is one of the known profile kinds.
func (k ProfileKind) Valid() bool {
	switch k {
	case KindRemote, KindLocal, KindMerge, KindScript:
		return true
	}
	return false
}

// Profile is a proxy configuration document, local or remote.
type Profile struct {
	ID   string
	Name string
	Kind ProfileKind

	// Source locator. Nil for inline/local content.
	URL *string

	// Raw content: YAML for remote/local/merge profiles, JavaScript for
	// script profiles.
	Content string

	// Update metadata for remote profiles.
	LastFetched    *time.Time
	UpdateInterval int // minutes; 0 means manual refresh only
	ETag           string
	ContentHash    string

	// Ordering position among profiles of the same kind.
	Position int

	// At most one profile is current (selected as the merge base).
	Current bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfilePatch carries partial updates for a profile. Nil fields are left
// untouched.
type ProfilePatch struct {
	Name           *string
	URL            *string
	Content        *string
	UpdateInterval *int
	Position       *int
}

// HashContent returns the sha256 hex digest used for change detection.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RefreshDue reports whether an auto-updating remote profile is due for a
// refresh at the given instant.
func (p *Profile) RefreshDue(now time.Time) bool {
	if p.Kind != KindRemote || p.UpdateInterval <= 0 {
		return false
	}
	if p.LastFetched == nil {
		return true
	}
	return now.After(p.LastFetched.Add(time.Duration(p.UpdateInterval) * time.Minute))
}
