package compiler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/sync"
)

// scanner lists the files in the dist directory, and compares them against
// the previous scan to decide which files were written by the latest build.
type scanner struct {
	distDir string

	// previous maps artifact names to their fingerprints. It's nil until
	// the first scan.
	previous map[string]string
}

func newScanner(distDir string) *scanner {
	return &scanner{distDir: distDir}
}

// scan returns an artifact for each file in the dist directory. A file is
// emitted if it's new or its contents changed since the previous scan. Every
// file is emitted by the first scan.
// Contents are compared rather than sizes and modification times, since a
// rebuild can rewrite a file without changing either.
func (s *scanner) scan() ([]sync.Artifact, error) {
	current := map[string]string{}
	var artifacts []sync.Artifact
	err := walkFiles(s.distDir, func(path string) error {
		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WithContext(err, "read")
		}

		name := artifactName(s.distDir, path)
		digest := sync.Fingerprint(contents)
		current[name] = digest

		prev, ok := s.previous[name]
		artifacts = append(artifacts, sync.Artifact{
			Name:       name,
			OutputPath: path,
			Chunks:     [][]byte{contents},
			Emitted:    s.previous == nil || !ok || prev != digest,
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk dist")
	}

	s.previous = current
	return artifacts, nil
}

// walkFiles calls `fn` for every regular file under `dir`, in lexical order.
// Files that disappear while walking are skipped, since the bundler may
// delete temporary files at any time.
func walkFiles(dir string, fn func(string) error) error {
	return afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if fi.Mode().IsRegular() {
			return fn(path)
		}
		return nil
	})
}

// artifactName is the path of the file relative to the dist directory, with
// forward slashes. This is also the key that the bundler would use for it.
func artifactName(distDir, path string) string {
	rel, err := filepath.Rel(distDir, path)
	if err != nil {
		rel = path
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), "/")
}
