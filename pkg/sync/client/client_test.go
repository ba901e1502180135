package client

import (
	"context"
	"fmt"
	goSync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/slate-tools/pkg/errors"
)

func TestUploadAll(t *testing.T) {
	var files []string
	for i := 0; i < 50; i++ {
		files = append(files, fmt.Sprintf("assets/%d.js", i))
	}

	var lock goSync.Mutex
	uploaded := map[string]struct{}{}
	var inflight, maxInflight int32
	err := uploadAll(context.Background(), files, func(_ context.Context, key string) error {
		n := atomic.AddInt32(&inflight, 1)
		defer atomic.AddInt32(&inflight, -1)

		lock.Lock()
		if n > maxInflight {
			maxInflight = n
		}
		uploaded[key] = struct{}{}
		lock.Unlock()

		time.Sleep(time.Millisecond)
		return nil
	})

	assert.NoError(t, err)
	assert.Len(t, uploaded, len(files))
	assert.True(t, maxInflight <= maxWorkers, "at most %d uploads should run in parallel", maxWorkers)
}

func TestUploadAllEmpty(t *testing.T) {
	called := false
	err := uploadAll(context.Background(), nil, func(_ context.Context, _ string) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestUploadAllError(t *testing.T) {
	var attempted int32
	err := uploadAll(context.Background(), []string{"a.js", "b.js", "c.js"},
		func(_ context.Context, key string) error {
			atomic.AddInt32(&attempted, 1)
			if key == "b.js" {
				return UploadError{Key: key, Status: 422, Body: "invalid"}
			}
			return nil
		})

	assert.EqualError(t, err, "sync b.js: upload b.js: status 422: invalid")
	assert.Equal(t, UploadError{Key: "b.js", Status: 422, Body: "invalid"}, errors.RootCause(err))

	// The other uploads still run.
	assert.Equal(t, int32(3), attempted)
}
