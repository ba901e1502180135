package compiler

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/slate-tools/pkg/sync"
)

func writeDistFile(t *testing.T, path, contents string, modTime time.Time) {
	require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
	require.NoError(t, fs.Chtimes(path, modTime, modTime))
}

// withoutContents clears the contents of `artifacts`, so that they can be
// compared by name.
func withoutContents(artifacts []sync.Artifact) []sync.Artifact {
	var stripped []sync.Artifact
	for _, a := range artifacts {
		a.Chunks = nil
		stripped = append(stripped, a)
	}
	return stripped
}

func TestScan(t *testing.T) {
	fs = afero.NewMemMapFs()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	writeDistFile(t, "/dist/assets/theme.js", "js", start)
	writeDistFile(t, "/dist/layout/theme.liquid", "liquid", start)
	writeDistFile(t, "/dist/static.js", "bootstrap", start)

	s := newScanner("/dist")
	artifacts, err := s.scan()
	require.NoError(t, err)
	assert.Equal(t, []sync.Artifact{
		{Name: "assets/theme.js", OutputPath: "/dist/assets/theme.js", Emitted: true},
		{Name: "layout/theme.liquid", OutputPath: "/dist/layout/theme.liquid", Emitted: true},
		{Name: "static.js", OutputPath: "/dist/static.js", Emitted: true},
	}, withoutContents(artifacts))
	assert.Equal(t, [][]byte{[]byte("liquid")}, artifacts[1].Chunks)

	// Nothing was rewritten.
	artifacts, err = s.scan()
	require.NoError(t, err)
	for _, a := range artifacts {
		assert.False(t, a.Emitted, a.Name)
	}

	// Only files whose contents changed are emitted. Touching a file isn't
	// enough.
	writeDistFile(t, "/dist/assets/theme.js", "js", start.Add(time.Second))
	writeDistFile(t, "/dist/layout/theme.liquid", "liquid, but longer", start)
	writeDistFile(t, "/dist/snippets/new.liquid", "new", start)
	require.NoError(t, fs.Remove("/dist/static.js"))

	artifacts, err = s.scan()
	require.NoError(t, err)
	assert.Equal(t, []sync.Artifact{
		{Name: "assets/theme.js", OutputPath: "/dist/assets/theme.js", Emitted: false},
		{Name: "layout/theme.liquid", OutputPath: "/dist/layout/theme.liquid", Emitted: true},
		{Name: "snippets/new.liquid", OutputPath: "/dist/snippets/new.liquid", Emitted: true},
	}, withoutContents(artifacts))
}

func TestScanSameSizeAndModTime(t *testing.T) {
	fs = afero.NewMemMapFs()

	// Filesystems with coarse timestamps can report the same modification
	// time for two writes in quick succession.
	modTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeDistFile(t, "/dist/assets/theme.js", "var a=1", modTime)

	s := newScanner("/dist")
	_, err := s.scan()
	require.NoError(t, err)

	writeDistFile(t, "/dist/assets/theme.js", "var a=2", modTime)
	artifacts, err := s.scan()
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.True(t, artifacts[0].Emitted)
	assert.Equal(t, [][]byte{[]byte("var a=2")}, artifacts[0].Chunks)
}

func TestScanEmptyDist(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/dist", 0755))

	artifacts, err := newScanner("/dist").scan()
	assert.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "assets/theme.js", artifactName("/dist", "/dist/assets/theme.js"))
	assert.Equal(t, "static.js", artifactName("dist", "dist/static.js"))
}
