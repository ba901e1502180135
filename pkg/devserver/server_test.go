package devserver

import (
	"context"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/slate-tools/pkg/compiler"
	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/hooks"
	"github.com/sidkik/slate-tools/pkg/sync"
	syncMocks "github.com/sidkik/slate-tools/pkg/sync/client/mocks"
)

func expectSync(t *testing.T, synced <-chan []string, exp []string) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case files := <-synced:
			// Builds without changes may be reported if the filesystem events
			// are spread out.
			if len(files) == 0 {
				continue
			}
			assert.Equal(t, exp, files)
			return
		case <-timeout:
			t.Fatalf("Timed out waiting for %v to be synced", exp)
		}
	}
}

func TestDevServer(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "layout"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dist, "layout", "theme.liquid"), []byte("layout"), 0644))

	synced := make(chan []string, 16)
	transport := &syncMocks.Client{}
	transport.On("Sync", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		synced <- args.Get(1).([]string)
	}).Return(nil)

	compiled := make(chan sync.BuildOutput, 16)
	logger, _ := logrusTest.NewNullLogger()
	server := New(Config{
		DistDir: dist,
		Watcher: compiler.Options{Debounce: 50 * time.Millisecond},
		OnCompile: func(build sync.BuildOutput) {
			select {
			case compiled <- build:
			default:
			}
		},
	}, transport, logger)

	var hadChanges []bool
	server.Hooks().Tap(hooks.PostSync, "collect", func(_ context.Context, event *hooks.Event) error {
		hadChanges = append(hadChanges, event.HadChanges)
		return nil
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.serve(ctx, listener) }()

	// The existing files are synced on startup.
	expectSync(t, synced, []string{"layout/theme.liquid"})
	first := <-compiled
	assert.Len(t, first.Artifacts, 1)

	// Then, new builds are synced incrementally.
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0755))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dist, "assets", "theme.js"), []byte("js"), 0644))
	expectSync(t, synced, []string{"assets/theme.js"})

	// The dist directory is served.
	resp, err := httpGet("http://" + listener.Addr().String() + "/assets/theme.js")
	require.NoError(t, err)
	assert.Equal(t, "js", resp)

	cancel()
	assert.NoError(t, <-serveErr)
	assert.Equal(t, Idle, server.Coordinator().State())
	assert.Contains(t, hadChanges, true)
}

func TestDevServerAbort(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dist, "index.liquid"), []byte("index"), 0644))

	transport := &syncMocks.Client{}
	logger, _ := logrusTest.NewNullLogger()
	server := New(Config{
		DistDir: dist,
		Watcher: compiler.Options{Debounce: 10 * time.Millisecond},
	}, transport, logger)
	server.Hooks().Tap(hooks.PreSync, "abort", func(_ context.Context, event *hooks.Event) error {
		event.Decision = hooks.Abort
		return nil
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	select {
	case err := <-runAsync(server, listener):
		assert.Equal(t, errors.ErrAborted, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the dev server to abort")
	}
	transport.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestDevServerPortInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	logger, _ := logrusTest.NewNullLogger()
	server := New(Config{DistDir: t.TempDir()}, &syncMocks.Client{}, logger)
	server.server.Addr = listener.Addr().String()

	err = server.Run(context.Background())
	_, isFriendly := err.(errors.FriendlyError)
	assert.True(t, isFriendly)
}

func runAsync(server *DevServer, listener net.Listener) <-chan error {
	errChan := make(chan error, 1)
	go func() { errChan <- server.serve(context.Background(), listener) }()
	return errChan
}

func httpGet(url string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	return string(body), err
}
