package sync

import (
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/errors"
)

// BootstrapScriptName is the artifact that bootstraps the theme's scripts.
// It is uploaded with the first build, but never incrementally afterwards.
const BootstrapScriptName = "static.js"

// ChangeDetector tracks the fingerprints of the artifacts from previous
// builds, and uses them to figure out which artifacts changed.
type ChangeDetector struct {
	fs      afero.Fs
	distDir string
	ignore  []string

	// fingerprints maps artifact names to the digest of their contents the
	// last time they were seen.
	fingerprints map[string]string
}

// NewChangeDetector creates a ChangeDetector for artifacts written to
// `distDir`. Artifacts whose sync path matches one of the `ignore` patterns
// are never reported as changed.
func NewChangeDetector(fs afero.Fs, distDir string, ignore []string) *ChangeDetector {
	return &ChangeDetector{
		fs:           fs,
		distDir:      distDir,
		ignore:       ignore,
		fingerprints: map[string]string{},
	}
}

// DetectChanges returns the sync paths of the artifacts in `build` that need
// to be uploaded, in the order they appear in the build.
// During the first cycle, every emitted artifact is returned. Afterwards, only
// artifacts whose contents differ from the previous build are returned.
// The fingerprint of every readable artifact is updated, whether or not it
// was returned.
func (d *ChangeDetector) DetectChanges(build BuildOutput, firstCycle bool) ChangeSet {
	changed := ChangeSet{}
	seen := map[string]struct{}{}
	for _, artifact := range build.Artifacts {
		chunks, err := d.contents(artifact)
		if err != nil {
			log.WithError(err).WithField("artifact", artifact.Name).Debug(
				"Failed to read artifact. It won't be synced this cycle.")
			continue
		}

		oldDigest, tracked := d.fingerprints[artifact.Name]
		newDigest := Fingerprint(chunks...)
		d.fingerprints[artifact.Name] = newDigest

		if !artifact.Emitted {
			continue
		}

		if !firstCycle {
			if artifact.Name == BootstrapScriptName {
				continue
			}
			if tracked && oldDigest == newDigest {
				continue
			}
		}

		if exists, err := afero.Exists(d.fs, artifact.OutputPath); err != nil || !exists {
			continue
		}

		syncPath := d.syncPath(artifact.OutputPath)
		if d.isIgnored(syncPath) {
			continue
		}

		if _, ok := seen[syncPath]; ok {
			continue
		}
		seen[syncPath] = struct{}{}
		changed = append(changed, syncPath)
	}
	return changed
}

// Fingerprints returns a copy of the tracked fingerprints, keyed by artifact
// name.
func (d *ChangeDetector) Fingerprints() map[string]string {
	fingerprintsCopy := map[string]string{}
	for name, digest := range d.fingerprints {
		fingerprintsCopy[name] = digest
	}
	return fingerprintsCopy
}

func (d *ChangeDetector) contents(artifact Artifact) ([][]byte, error) {
	if artifact.Chunks != nil || artifact.OutputPath == "" {
		return artifact.Chunks, nil
	}

	contents, err := afero.ReadFile(d.fs, artifact.OutputPath)
	if err != nil {
		return nil, errors.WithContext(err, "read")
	}
	return [][]byte{contents}, nil
}

// syncPath strips the dist directory from `outputPath`, giving the path that
// the file should be uploaded to.
func (d *ChangeDetector) syncPath(outputPath string) string {
	p := outputPath
	if d.distDir != "" {
		relativePath, err := filepath.Rel(d.distDir, outputPath)
		if err == nil && !strings.HasPrefix(relativePath, "..") {
			p = relativePath
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(p), "/")
}

func (d *ChangeDetector) isIgnored(syncPath string) bool {
	for _, pattern := range d.ignore {
		target := syncPath
		if !strings.Contains(pattern, "/") {
			target = path.Base(syncPath)
		}

		if ok, err := path.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}
