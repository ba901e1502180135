package compiler

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/slate-tools/pkg/sync"
)

func newTestWatcher(t *testing.T, debounce time.Duration) (*Watcher, clockwork.FakeClock, *logrusTest.Hook) {
	logger, hook := logrusTest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	w := NewWatcher(Options{DistDir: "/dist", Debounce: debounce}, logger)
	clock := clockwork.NewFakeClock()
	w.clock = clock
	return w, clock, hook
}

func expectBuild(t *testing.T, builds <-chan sync.BuildOutput) sync.BuildOutput {
	select {
	case build := <-builds:
		return build
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for build")
	}
	return sync.BuildOutput{}
}

func expectNoBuild(t *testing.T, builds <-chan sync.BuildOutput) {
	select {
	case build := <-builds:
		t.Fatalf("Unexpected build: %v", build)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebounce(t *testing.T) {
	fs = afero.NewMemMapFs()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeDistFile(t, "/dist/layout/theme.liquid", "liquid", start)

	w, clock, _ := newTestWatcher(t, time.Second)
	updates := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	debounceErr := make(chan error, 1)
	go func() { debounceErr <- w.debounce(ctx, updates) }()

	// The existing files are reported once the initial quiet period passes.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	build := expectBuild(t, w.Builds())
	assert.Equal(t, []sync.Artifact{
		{Name: "layout/theme.liquid", OutputPath: "/dist/layout/theme.liquid", Emitted: true},
	}, withoutContents(build.Artifacts))

	// A burst of writes only produces one build, once the writes stop.
	writeDistFile(t, "/dist/assets/theme.js", "js", start)
	updates <- struct{}{}
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	expectNoBuild(t, w.Builds())

	updates <- struct{}{}
	clock.BlockUntil(2)
	clock.Advance(500 * time.Millisecond)
	expectNoBuild(t, w.Builds())

	clock.Advance(500 * time.Millisecond)
	build = expectBuild(t, w.Builds())
	assert.Equal(t, []sync.Artifact{
		{Name: "assets/theme.js", OutputPath: "/dist/assets/theme.js", Emitted: true},
		{Name: "layout/theme.liquid", OutputPath: "/dist/layout/theme.liquid", Emitted: false},
	}, withoutContents(build.Artifacts))
	assert.Equal(t, time.Second+500*time.Millisecond, build.Duration)

	cancel()
	assert.Equal(t, context.Canceled, <-debounceErr)
}

func TestBuildIncludesDiagnostics(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/dist", 0755))
	w, _, _ := newTestWatcher(t, time.Second)

	w.diag.record("Hash: 4c3a8d")
	w.diag.record("WARNING in asset size limit: theme.js (300 KiB)")
	w.diag.record("  ERROR in ./src/scripts/theme.js")

	build, err := w.build(w.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR in ./src/scripts/theme.js"}, build.Errors)
	assert.Equal(t, []string{"WARNING in asset size limit: theme.js (300 KiB)"}, build.Warnings)

	// Diagnostics are only reported with the next build.
	build, err = w.build(w.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, build.Errors)
	assert.Empty(t, build.Warnings)
}

func TestStartBundler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	logger, hook := logrusTest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	diag := &diagnostics{}

	exited, err := startBundler(context.Background(),
		[]string{"sh", "-c", "echo 'ERROR in ./src/theme.js'; echo compiling >&2"},
		"", logger, diag)
	require.NoError(t, err)
	assert.NoError(t, <-exited)

	errs, _ := diag.drain()
	assert.Equal(t, []string{"ERROR in ./src/theme.js"}, errs)

	var messages []string
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, "sh", entry.Data["bundler"])
		messages = append(messages, entry.Message)
	}
	assert.ElementsMatch(t, []string{"ERROR in ./src/theme.js", "compiling"}, messages)
}

func TestStartBundlerStopsOnCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}

	logger, _ := logrusTest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	exited, err := startBundler(ctx, []string{"sleep", "60"}, "", logger, &diagnostics{})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-exited:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Bundler wasn't stopped")
	}
}
