package compiler

import (
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/errors"
)

// fs is overridden by afero.NewMemMapFs() in the tests.
var fs = afero.NewOsFs()

// getPathsToWatch returns `dir` and all of its subdirectories. fsnotify
// doesn't watch directories recursively, so each directory must be added
// individually. Events for files are delivered through their parent
// directory.
func getPathsToWatch(dir string) (paths []string, err error) {
	fi, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: dir}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("The dist path %q is a file. "+
			"It should be the directory that the theme is compiled into.", dir)
	}

	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

// combineUpdates coalesces bursts of filesystem events into a single
// notification. `onEvent` is called for every event before it's coalesced.
func combineUpdates(updates <-chan fsnotify.Event, onEvent func(fsnotify.Event)) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if onEvent != nil {
				onEvent(event)
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}
