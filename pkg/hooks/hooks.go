// Package hooks implements the extension points that listeners attach to in
// order to observe or influence a sync cycle.
package hooks

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/slate-tools/pkg/errors"
)

// Kind identifies an extension point within a sync cycle.
type Kind int

const (
	// PreSync runs before anything is uploaded. Listeners may replace the
	// files, or set the Decision to skip the cycle or abort the process.
	PreSync Kind = iota

	// SyncStart runs right before the files are handed to the sync client.
	SyncStart

	// SyncSkipped runs instead of SyncStart when the first upload is skipped.
	SyncSkipped

	// SyncDone runs after the sync client successfully uploaded the files.
	SyncDone

	// SyncFailed runs when the sync client returned an error. Event.Err
	// contains the error.
	SyncFailed

	// PostSync runs after the SyncDone listeners.
	PostSync
)

var kindNames = map[Kind]string{
	PreSync:     "pre-sync",
	SyncStart:   "sync-start",
	SyncSkipped: "sync-skipped",
	SyncDone:    "sync-done",
	SyncFailed:  "sync-failed",
	PostSync:    "post-sync",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Decision is how a PreSync listener wants the cycle to continue.
type Decision int

const (
	// Proceed continues the cycle.
	Proceed Decision = iota

	// Skip abandons the current cycle. The next build is still synced.
	Skip

	// Abort stops syncing altogether.
	Abort
)

// Event is passed to the listeners of an extension point.
type Event struct {
	Kind Kind

	// Files are the sync paths for the cycle. PreSync listeners may replace
	// them.
	Files []string

	// FirstCycle is whether this is the first cycle since the process
	// started.
	FirstCycle bool

	// HadChanges is set for PostSync, and is whether any files were uploaded.
	HadChanges bool

	// Decision and SkipSettings are only consulted after PreSync.
	Decision     Decision
	SkipSettings bool

	// Err is set for SyncFailed.
	Err error
}

// Listener handles an event. Blocking listeners may modify the event.
type Listener func(ctx context.Context, event *Event) error

type registration struct {
	name     string
	listener Listener
	blocking bool
}

// Hub holds the listeners for each extension point.
type Hub struct {
	lock      sync.RWMutex
	listeners map[Kind][]registration

	inflight sync.WaitGroup
	log      *log.Logger
}

// NewHub returns an empty Hub. Errors from fire-and-forget listeners are
// logged to `logger`.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		listeners: map[Kind][]registration{},
		log:       logger,
	}
}

// Tap registers a listener that is run to completion, in registration order,
// before the cycle continues.
func (h *Hub) Tap(kind Kind, name string, listener Listener) {
	h.register(kind, registration{name: name, listener: listener, blocking: true})
}

// TapAsync registers a listener that is started in the background, without
// waiting for it to finish. It receives a copy of the event.
// PreSync listeners have to be blocking, since the cycle depends on their
// decision.
func (h *Hub) TapAsync(kind Kind, name string, listener Listener) error {
	if kind == PreSync {
		return errors.New("pre-sync listeners must be blocking")
	}
	h.register(kind, registration{name: name, listener: listener})
	return nil
}

func (h *Hub) register(kind Kind, reg registration) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.listeners[kind] = append(h.listeners[kind], reg)
}

// Dispatch runs the listeners for `event.Kind`. It returns the first error
// returned by a blocking listener, and doesn't run any later listeners.
// For PreSync, a listener that sets the Decision to anything other than
// Proceed also stops the chain.
func (h *Hub) Dispatch(ctx context.Context, event *Event) error {
	h.lock.RLock()
	regs := append([]registration(nil), h.listeners[event.Kind]...)
	h.lock.RUnlock()

	for _, reg := range regs {
		if !reg.blocking {
			h.fireAndForget(ctx, reg, *event)
			continue
		}

		if err := reg.listener(ctx, event); err != nil {
			return errors.WithContext(err, fmt.Sprintf("%s listener %q", event.Kind, reg.name))
		}

		if event.Kind == PreSync && event.Decision != Proceed {
			return nil
		}
	}
	return nil
}

func (h *Hub) fireAndForget(ctx context.Context, reg registration, event Event) {
	event.Files = append([]string(nil), event.Files...)

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		if err := reg.listener(ctx, &event); err != nil {
			h.log.WithError(err).WithFields(log.Fields{
				"listener": reg.name,
				"event":    event.Kind.String(),
			}).Warn("Listener failed")
		}
	}()
}

// Wait blocks until all fire-and-forget listeners have returned.
func (h *Hub) Wait() {
	h.inflight.Wait()
}
