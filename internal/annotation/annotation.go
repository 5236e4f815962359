// Package annotation defines the annotation record exchanged with clients
// and stored by the service. The thread builder consumes these records
// read-only; it never validates or mutates them.
package annotation

import "time"

// Annotation is a single comment on a URI, or a reply to another annotation.
// Records that have been saved server-side carry a persistent ID; unsaved
// records are identified by the client-assigned LocalID instead.
type Annotation struct {
	ID         string    `json:"id,omitempty"`
	LocalID    string    `json:"localId,omitempty"`
	URI        string    `json:"uri"`
	User       string    `json:"user"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags,omitempty"`
	References []string  `json:"references,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

// ResolveID returns the identifier that names this record in a thread:
// the persistent ID when the record has been saved, the local ID otherwise.
func ResolveID(a *Annotation) string {
	if a == nil {
		return ""
	}
	if a.ID != "" {
		return a.ID
	}
	return a.LocalID
}

// IsSaved reports whether the record has a persistent server-side identity.
func IsSaved(a *Annotation) bool {
	return a != nil && a.ID != ""
}

// IsReply reports whether the record references at least one ancestor.
func IsReply(a *Annotation) bool {
	return a != nil && len(a.References) > 0
}

// Parent returns the nearest ancestor id from the references chain, or ""
// for a top-level annotation.
func Parent(a *Annotation) string {
	if a == nil || len(a.References) == 0 {
		return ""
	}
	return a.References[len(a.References)-1]
}
