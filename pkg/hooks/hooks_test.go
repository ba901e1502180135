package hooks

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/slate-tools/pkg/errors"
)

func TestDispatchOrder(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	hub := NewHub(logger)

	var calls []string
	record := func(name string) Listener {
		return func(_ context.Context, _ *Event) error {
			calls = append(calls, name)
			return nil
		}
	}
	hub.Tap(SyncDone, "first", record("first"))
	hub.Tap(SyncDone, "second", record("second"))
	hub.Tap(PostSync, "other-kind", record("other-kind"))
	hub.Tap(SyncDone, "third", record("third"))

	require.NoError(t, hub.Dispatch(context.Background(), &Event{Kind: SyncDone}))
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDispatchNoListeners(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	assert.NoError(t, NewHub(logger).Dispatch(context.Background(), &Event{Kind: SyncStart}))
}

func TestDispatchError(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	hub := NewHub(logger)

	ranAfterError := false
	hub.Tap(SyncStart, "broken", func(_ context.Context, _ *Event) error {
		return assert.AnError
	})
	hub.Tap(SyncStart, "after", func(_ context.Context, _ *Event) error {
		ranAfterError = true
		return nil
	})

	err := hub.Dispatch(context.Background(), &Event{Kind: SyncStart})
	assert.EqualError(t, err, `sync-start listener "broken": `+assert.AnError.Error())
	assert.Equal(t, assert.AnError, errors.RootCause(err))
	assert.False(t, ranAfterError)
}

func TestPreSyncModifiesEvent(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	hub := NewHub(logger)

	hub.Tap(PreSync, "filter", func(_ context.Context, event *Event) error {
		var files []string
		for _, f := range event.Files {
			if f != "config/settings_data.json" {
				files = append(files, f)
			}
		}
		event.Files = files
		return nil
	})
	hub.Tap(PreSync, "settings", func(_ context.Context, event *Event) error {
		assert.Equal(t, []string{"layout/theme.liquid"}, event.Files)
		event.SkipSettings = true
		return nil
	})

	event := Event{
		Kind:  PreSync,
		Files: []string{"layout/theme.liquid", "config/settings_data.json"},
	}
	require.NoError(t, hub.Dispatch(context.Background(), &event))
	assert.Equal(t, []string{"layout/theme.liquid"}, event.Files)
	assert.True(t, event.SkipSettings)
	assert.Equal(t, Proceed, event.Decision)
}

func TestPreSyncDecisionStopsChain(t *testing.T) {
	for _, decision := range []Decision{Skip, Abort} {
		decision := decision
		logger, _ := logrusTest.NewNullLogger()
		hub := NewHub(logger)

		ranAfterDecision := false
		hub.Tap(PreSync, "decide", func(_ context.Context, event *Event) error {
			event.Decision = decision
			return nil
		})
		hub.Tap(PreSync, "after", func(_ context.Context, _ *Event) error {
			ranAfterDecision = true
			return nil
		})

		event := Event{Kind: PreSync}
		require.NoError(t, hub.Dispatch(context.Background(), &event))
		assert.Equal(t, decision, event.Decision)
		assert.False(t, ranAfterDecision)
	}
}

func TestBlockingListenerSuspends(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	hub := NewHub(logger)

	// Simulate a listener waiting on user input.
	answer := make(chan bool)
	hub.Tap(PreSync, "prompt", func(_ context.Context, event *Event) error {
		if !<-answer {
			event.Decision = Abort
		}
		return nil
	})

	done := make(chan *Event)
	go func() {
		event := &Event{Kind: PreSync}
		assert.NoError(t, hub.Dispatch(context.Background(), event))
		done <- event
	}()

	answer <- false
	assert.Equal(t, Abort, (<-done).Decision)
}

func TestTapAsync(t *testing.T) {
	logger, logHook := logrusTest.NewNullLogger()
	hub := NewHub(logger)

	assert.Error(t, hub.TapAsync(PreSync, "async", func(_ context.Context, _ *Event) error {
		return nil
	}))

	var lock sync.Mutex
	var received []string
	require.NoError(t, hub.TapAsync(SyncDone, "async", func(_ context.Context, event *Event) error {
		lock.Lock()
		defer lock.Unlock()
		received = append(received, event.Files...)

		// Changes made by fire-and-forget listeners aren't visible to the
		// dispatcher.
		event.Files[0] = "modified"
		return nil
	}))
	require.NoError(t, hub.TapAsync(SyncDone, "failing", func(_ context.Context, _ *Event) error {
		return assert.AnError
	}))

	event := Event{Kind: SyncDone, Files: []string{"assets/theme.js"}}
	require.NoError(t, hub.Dispatch(context.Background(), &event))
	hub.Wait()

	assert.Equal(t, []string{"assets/theme.js"}, received)
	assert.Equal(t, []string{"assets/theme.js"}, event.Files)

	entries := logHook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "Listener failed", entries[0].Message)
	assert.Equal(t, "failing", entries[0].Data["listener"])
	assert.Equal(t, "sync-done", entries[0].Data["event"])
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "pre-sync", PreSync.String())
	assert.Equal(t, "post-sync", PostSync.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
