// Package compiler watches the dist directory that the bundler writes the
// compiled theme into, and reports a build once the directory stops changing.
package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/sync"
)

// Options configures a Watcher.
type Options struct {
	// DistDir is the directory that the bundler writes to.
	DistDir string

	// Command is the bundler to run in the background. It's optional, in
	// which case the bundler is expected to be run separately.
	Command []string

	// Dir is the working directory for Command.
	Dir string

	// Debounce is how long the dist directory must be quiet before a build
	// is reported.
	Debounce time.Duration
}

// Watcher reports a BuildOutput each time the bundler finishes writing to the
// dist directory.
type Watcher struct {
	opts    Options
	clock   clockwork.Clock
	log     *logrus.Logger
	scanner *scanner
	diag    *diagnostics

	builds chan sync.BuildOutput
}

// NewWatcher creates a Watcher. Nothing is watched until Run is called.
func NewWatcher(opts Options, logger *logrus.Logger) *Watcher {
	return &Watcher{
		opts:    opts,
		clock:   clockwork.NewRealClock(),
		log:     logger,
		scanner: newScanner(opts.DistDir),
		diag:    &diagnostics{},
		builds:  make(chan sync.BuildOutput),
	}
}

// Builds returns the channel that completed builds are sent on.
func (w *Watcher) Builds() <-chan sync.BuildOutput {
	return w.builds
}

// Run starts the bundler and watches the dist directory until `ctx` is
// cancelled. The bundler is stopped before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := fs.MkdirAll(w.opts.DistDir, 0755); err != nil {
		return errors.WithContext(err, "create dist directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithContext(err, "create watcher")
	}
	defer watcher.Close()

	paths, err := getPathsToWatch(w.opts.DistDir)
	if err != nil {
		return errors.WithContext(err, "get paths")
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	var bundlerExited <-chan error
	if len(w.opts.Command) != 0 {
		bundlerExited, err = startBundler(ctx, w.opts.Command, w.opts.Dir, w.log, w.diag)
		if err != nil {
			return errors.WithContext(err, "start bundler")
		}
	}

	updates := combineUpdates(watcher.Events, func(event fsnotify.Event) {
		w.watchNewDirectory(watcher, event)
	})

	go func() {
		for err := range watcher.Errors {
			w.log.WithError(err).Warn("File watcher error")
		}
	}()

	debounceErr := make(chan error, 1)
	go func() {
		debounceErr <- w.debounce(ctx, updates)
	}()

	for {
		select {
		case err := <-bundlerExited:
			bundlerExited = nil
			if ctx.Err() == nil {
				w.log.WithError(err).Warn("The bundler exited. " +
					"Changes will only be synced if the theme is rebuilt separately.")
			}
		case err := <-debounceErr:
			if bundlerExited != nil {
				// Wait for the bundler to stop.
				<-bundlerExited
			}
			return err
		}
	}
}

// watchNewDirectory adds directories created after Run started.
func (w *Watcher) watchNewDirectory(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create == 0 {
		return
	}

	fi, err := fs.Stat(event.Name)
	if err != nil || !fi.IsDir() {
		return
	}

	paths, err := getPathsToWatch(event.Name)
	if err != nil {
		w.log.WithError(err).WithField("path", event.Name).Debug("Failed to list new directory")
		return
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			w.log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
		}
	}
}

// debounce reports a build once there haven't been any updates for the
// debounce period. The dist directory is scanned once at startup as well, so
// that the existing files are synced even if the bundler doesn't rebuild.
func (w *Watcher) debounce(ctx context.Context, updates <-chan struct{}) error {
	burstStart := w.clock.Now()
	quiet := w.clock.After(w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updates:
			if quiet == nil {
				burstStart = w.clock.Now()
			}
			quiet = w.clock.After(w.opts.Debounce)
		case <-quiet:
			quiet = nil
			build, err := w.build(burstStart)
			if err != nil {
				w.log.WithError(err).Warn("Failed to read the compiled theme")
				continue
			}

			select {
			case w.builds <- build:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Watcher) build(burstStart time.Time) (sync.BuildOutput, error) {
	artifacts, err := w.scanner.scan()
	if err != nil {
		return sync.BuildOutput{}, err
	}

	errs, warnings := w.diag.drain()
	return sync.BuildOutput{
		Artifacts: artifacts,
		Errors:    errs,
		Warnings:  warnings,
		Duration:  w.clock.Now().Sub(burstStart),
	}, nil
}
