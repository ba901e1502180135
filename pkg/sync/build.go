package sync

import (
	"time"
)

// Artifact is a single file produced by the bundler.
type Artifact struct {
	// Name is the bundler's key for the artifact. It is stable across builds
	// and is used to look up the previous fingerprint.
	Name string

	// OutputPath is where the artifact was written. It may be either a
	// relative path or an absolute path.
	OutputPath string

	// Chunks are the artifact's contents as reported by the bundler. If nil,
	// the contents are read from OutputPath.
	Chunks [][]byte

	// Emitted is whether the bundler wrote the artifact during this build.
	Emitted bool
}

// Fingerprint returns the digest of the artifact's in-memory contents.
func (a Artifact) Fingerprint() string {
	return Fingerprint(a.Chunks...)
}

// BuildOutput is the result of one completed compilation.
type BuildOutput struct {
	Artifacts []Artifact

	// Errors and Warnings are the messages reported by the bundler.
	Errors   []string
	Warnings []string

	// Duration is how long the compilation took.
	Duration time.Duration
}

// ChangeSet is the ordered list of sync paths that should be uploaded.
type ChangeSet []string
