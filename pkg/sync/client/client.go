package client

//go:generate mockery -name Client

import (
	"context"
	"fmt"
	"path/filepath"
	goSync "sync"

	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/errors"
)

// Client uploads compiled theme files to a sync target.
type Client interface {
	// Sync uploads the given files. The paths are relative to the dist
	// directory, and are also the keys that the files are uploaded to.
	Sync(ctx context.Context, files []string) error

	// IsPublished returns whether the target is visible to the public, e.g.
	// because it's the store's live theme.
	IsPublished(ctx context.Context) (bool, error)

	Close() error
}

// UploadError is returned when the target rejects a file.
type UploadError struct {
	Key    string
	Status int
	Body   string
}

func (err UploadError) Error() string {
	if err.Body == "" {
		return fmt.Sprintf("upload %s: status %d", err.Key, err.Status)
	}
	return fmt.Sprintf("upload %s: status %d: %s", err.Key, err.Status, err.Body)
}

// maxWorkers is the maximum number of files that are uploaded in parallel.
const maxWorkers = 8

type uploadResult struct {
	key string
	err error
}

// uploadAll calls `upload` for each file on a pool of workers. All files are
// attempted even if some fail, and the first error is returned once every
// upload has finished.
func uploadAll(ctx context.Context, files []string,
	upload func(context.Context, string) error) error {

	if len(files) == 0 {
		return nil
	}

	numWorkers := maxWorkers
	if len(files) < numWorkers {
		numWorkers = len(files)
	}

	var uploadWaitGroup goSync.WaitGroup
	toUploadChan := make(chan string, numWorkers*2)
	uploadResults := make(chan uploadResult, numWorkers)
	for i := 0; i < numWorkers; i++ {
		uploadWaitGroup.Add(1)
		go func() {
			defer uploadWaitGroup.Done()
			for key := range toUploadChan {
				uploadResults <- uploadResult{key: key, err: upload(ctx, key)}
			}
		}()
	}

	// Feed the upload workers.
	go func() {
		for _, f := range files {
			toUploadChan <- f
		}
		close(toUploadChan)

		uploadWaitGroup.Wait()
		close(uploadResults)
	}()

	var firstErr error
	for res := range uploadResults {
		if res.err != nil && firstErr == nil {
			firstErr = errors.WithContext(res.err, fmt.Sprintf("sync %s", res.key))
		}
	}
	return firstErr
}

func readFile(fs afero.Fs, distDir, key string) ([]byte, error) {
	contents, err := afero.ReadFile(fs, filepath.Join(distDir, filepath.FromSlash(key)))
	if err != nil {
		return nil, errors.WithContext(err, "read")
	}
	return contents, nil
}
