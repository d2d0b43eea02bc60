package persistence

import (
	"time"

	"github.com/DavidKk/tabsync/identity"
)

// Status is the rollout phase recorded in a shared record.
type Status string

const (
	// StatusNone is the status of a record that is not part of a rollout, such
	// as a lease record or a dev-mode distribution record.
	StatusNone Status = ""

	// StatusValidating indicates that the host is checking that a new artifact
	// is reachable before downloading it.
	StatusValidating Status = "validating"

	// StatusSuccess indicates that the host has downloaded the artifact and
	// that it is ready to be executed by every tab.
	StatusSuccess Status = "success"

	// StatusFailed indicates that the rollout was abandoned. The previously
	// running artifact remains in effect.
	StatusFailed Status = "failed"
)

// Record is the value stored under a namespaced key in the durable store.
//
// A record is always read, modified and written as a whole. Concurrent writers
// replace the entire value, so partial patches of individual fields would
// silently clobber each other.
type Record struct {
	// Host is the tab currently claiming authority over the namespace, or
	// empty if none.
	Host identity.TabID `json:"host,omitempty"`

	// LastModified is the time the record was written, in milliseconds since
	// the Unix epoch. It serves as the record's version token.
	LastModified int64 `json:"lastModified"`

	// Status is the rollout phase, if the record describes a rollout.
	Status Status `json:"status,omitempty"`

	// Error is a human-readable description of why a rollout failed. It is
	// only populated when Status is StatusFailed.
	Error string `json:"error,omitempty"`

	// ArtifactURL is the location from which each tab fetches the artifact
	// announced by a successful rollout.
	ArtifactURL string `json:"artifactUrl,omitempty"`

	// CompiledContent is the executable artifact body attached directly to
	// the record by the dev-mode distribution variants.
	CompiledContent string `json:"compiledContent,omitempty"`

	// Files maps source paths to their content, for variants that carry the
	// uncompiled sources alongside the artifact.
	Files map[string]string `json:"files,omitempty"`
}

// Supersedes returns true if r is strictly newer than prev.
//
// Delivery of records is at-least-once, so consumers must discard any record
// that does not supersede the one they last applied.
func (r Record) Supersedes(prev Record) bool {
	return r.LastModified > prev.LastModified
}

// Vacant returns true if the record does not name a host.
func (r Record) Vacant() bool {
	return r.Host == ""
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Files != nil {
		files := make(map[string]string, len(r.Files))
		for k, v := range r.Files {
			files[k] = v
		}
		r.Files = files
	}

	return r
}

// Now returns the current time as a record version token.
func Now() int64 {
	return time.Now().UnixMilli()
}
