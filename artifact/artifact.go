// Package artifact defines the compiled artifact model and the transport
// edge used to probe and download remotely hosted artifacts.
package artifact

import (
	"context"
	"strings"
)

// Artifact is a compiled, executable payload together with the sources it was
// produced from.
//
// The artifact body is opaque to the coordination protocol; beyond a
// non-empty check it is only ever handed to the execution sandbox.
type Artifact struct {
	// Files maps source paths to their content.
	Files map[string]string

	// Content is the flattened, executable payload.
	Content string
}

// OK returns true if the artifact carries a usable payload.
func (a Artifact) OK() bool {
	return strings.TrimSpace(a.Content) != ""
}

// Compiler produces an executable artifact from a set of named source files.
//
// The compiler itself is an external collaborator; the distribution protocol
// only depends on this contract.
type Compiler interface {
	// Compile turns the given sources into a single executable artifact.
	Compile(ctx context.Context, files map[string]string) (Artifact, error)
}
