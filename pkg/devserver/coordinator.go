package devserver

import (
	"context"
	"strings"
	goSync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/hooks"
	"github.com/sidkik/slate-tools/pkg/metrics"
	"github.com/sidkik/slate-tools/pkg/sync"
	syncClient "github.com/sidkik/slate-tools/pkg/sync/client"
)

// DefaultSettingsPath is the suffix of the files that are dropped when a
// PreSync listener asks to skip the theme settings.
const DefaultSettingsPath = "settings_data.json"

// State is the stage of the sync cycle that the coordinator is in.
type State int

const (
	// Idle means the coordinator is waiting for a build.
	Idle State = iota
	Detecting
	AwaitingPreSyncApproval
	Transporting
	Notifying

	// Aborted is terminal. No more builds are synced.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Detecting:
		return "Detecting"
	case AwaitingPreSyncApproval:
		return "AwaitingPreSyncApproval"
	case Transporting:
		return "Transporting"
	case Notifying:
		return "Notifying"
	case Aborted:
		return "Aborted"
	}
	return "Unknown"
}

// Options configures a Coordinator.
type Options struct {
	// SkipFirstDeploy skips uploading the first build. This is useful when
	// the theme was already deployed by a previous run.
	SkipFirstDeploy bool

	// SettingsPath defaults to DefaultSettingsPath.
	SettingsPath string
}

// Coordinator runs a sync cycle for each completed build. Builds are queued,
// and synced one at a time in the order that they completed.
type Coordinator struct {
	detector  *sync.ChangeDetector
	hub       *hooks.Hub
	transport syncClient.Client
	opts      Options
	log       *logrus.Logger
	metrics   *metrics.Metrics

	lock  goSync.Mutex
	state State
	queue []sync.BuildOutput

	// wake is signalled whenever a build is queued.
	wake chan struct{}

	// hasCycled is only accessed by the goroutine running the cycles.
	hasCycled bool
}

// NewCoordinator creates a Coordinator. `m` may be nil.
func NewCoordinator(detector *sync.ChangeDetector, hub *hooks.Hub,
	transport syncClient.Client, opts Options, logger *logrus.Logger,
	m *metrics.Metrics) *Coordinator {

	if opts.SettingsPath == "" {
		opts.SettingsPath = DefaultSettingsPath
	}

	return &Coordinator{
		detector:  detector,
		hub:       hub,
		transport: transport,
		opts:      opts,
		log:       logger,
		metrics:   m,
		state:     Idle,
		wake:      make(chan struct{}, 1),
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *Coordinator) setState(state State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state == Aborted {
		return
	}
	c.state = state
}

// OnBuildComplete queues `build` to be synced. It doesn't block, even if a
// cycle is in progress. Builds completed after an abort are dropped.
func (c *Coordinator) OnBuildComplete(build sync.BuildOutput) {
	c.lock.Lock()
	if c.state == Aborted {
		c.lock.Unlock()
		return
	}
	c.queue = append(c.queue, build)
	c.lock.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) dequeue() (sync.BuildOutput, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.queue) == 0 {
		return sync.BuildOutput{}, false
	}

	build := c.queue[0]
	c.queue = c.queue[1:]
	return build, true
}

// Run syncs queued builds until `ctx` is cancelled, or a PreSync listener
// aborts. In the latter case, errors.ErrAborted is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		build, ok := c.dequeue()
		if !ok {
			select {
			case <-c.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.Cycle(ctx, build); err != nil {
			return err
		}
	}
}

// Cycle syncs the artifacts in `build` that changed since the last cycle.
// Failures to upload don't return an error, since the next build might
// succeed. An error is only returned if syncing should stop altogether.
func (c *Coordinator) Cycle(ctx context.Context, build sync.BuildOutput) error {
	if c.State() == Aborted {
		return errors.ErrAborted
	}
	defer c.setState(Idle)

	c.setState(Detecting)
	firstCycle := !c.hasCycled
	c.hasCycled = true
	files := c.detector.DetectChanges(build, firstCycle)

	logger := c.log.WithField("firstCycle", firstCycle)
	logger.WithField("files", []string(files)).Debug("Detected changes")

	if firstCycle && c.opts.SkipFirstDeploy {
		c.dispatch(ctx, &hooks.Event{
			Kind:       hooks.SyncSkipped,
			Files:      files,
			FirstCycle: true,
		})
		c.metrics.CycleFinished(metrics.ResultSkipped)
		return nil
	}

	c.setState(AwaitingPreSyncApproval)
	preSync := hooks.Event{
		Kind:       hooks.PreSync,
		Files:      files,
		FirstCycle: firstCycle,
	}
	if err := c.hub.Dispatch(ctx, &preSync); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(err).Error("Pre-sync failed. Skipping this build.")
		c.metrics.CycleFinished(metrics.ResultFailed)
		return nil
	}

	switch preSync.Decision {
	case hooks.Abort:
		c.abort()
		c.metrics.CycleFinished(metrics.ResultAborted)
		return errors.ErrAborted
	case hooks.Skip:
		logger.Debug("Pre-sync listener skipped the build")
		c.metrics.CycleFinished(metrics.ResultSkipped)
		return nil
	}

	files = preSync.Files
	if preSync.SkipSettings {
		files = c.withoutSettings(files)
	}

	c.dispatch(ctx, &hooks.Event{
		Kind:       hooks.SyncStart,
		Files:      files,
		FirstCycle: firstCycle,
	})

	c.setState(Transporting)
	start := time.Now()
	if err := c.transport.Sync(ctx, files); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WithError(err).WithField("files", []string(files)).Error("Failed to sync files")
		c.metrics.TransportFailed()
		c.metrics.CycleFinished(metrics.ResultFailed)
		c.dispatch(ctx, &hooks.Event{
			Kind:       hooks.SyncFailed,
			Files:      files,
			FirstCycle: firstCycle,
			Err:        err,
		})
		return nil
	}
	c.metrics.FilesSynced(len(files), time.Since(start))

	c.setState(Notifying)
	c.dispatch(ctx, &hooks.Event{
		Kind:       hooks.SyncDone,
		Files:      files,
		FirstCycle: firstCycle,
	})
	c.dispatch(ctx, &hooks.Event{
		Kind:       hooks.PostSync,
		Files:      files,
		FirstCycle: firstCycle,
		HadChanges: len(files) > 0,
	})

	if len(files) == 0 {
		c.metrics.CycleFinished(metrics.ResultNoChange)
	} else {
		c.metrics.CycleFinished(metrics.ResultSynced)
	}
	return nil
}

// dispatch runs the listeners for an informational event. Listener errors
// don't affect the cycle.
func (c *Coordinator) dispatch(ctx context.Context, event *hooks.Event) {
	if err := c.hub.Dispatch(ctx, event); err != nil {
		c.log.WithError(err).WithField("event", event.Kind.String()).Warn("Listener failed")
	}
}

func (c *Coordinator) abort() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = Aborted
	c.queue = nil
}

func (c *Coordinator) withoutSettings(files []string) []string {
	var filtered []string
	for _, f := range files {
		if !strings.HasSuffix(f, c.opts.SettingsPath) {
			filtered = append(filtered, f)
		}
	}
	return filtered
}
