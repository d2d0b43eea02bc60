// Package identity assigns each participating tab a process-lifetime-unique
// identifier.
package identity

import (
	"sync"

	"github.com/google/uuid"
)

// TabID uniquely identifies a single participating tab.
//
// A TabID is opaque. It is stable for the lifetime of the tab that generated
// it and is never persisted across restarts.
type TabID string

// New returns a new unique tab ID.
func New() TabID {
	return TabID(uuid.NewString())
}

var (
	once sync.Once
	tab  TabID
)

// Tab returns the ID of this tab.
//
// The ID is allocated on first use and remains the same for the lifetime of
// the process.
func Tab() TabID {
	once.Do(func() {
		tab = New()
	})

	return tab
}
