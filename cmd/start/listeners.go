package start

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/buger/goterm"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/cmd/util"
	"github.com/sidkik/slate-tools/pkg/analytics"
	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/hooks"
	"github.com/sidkik/slate-tools/pkg/sync"
)

const eventPrefix = "slate-tools:start:"

// listeners prints the progress of `slate start`, and asks the user before
// syncing anything destructive.
type listeners struct {
	out     io.Writer
	fs      afero.Fs
	distDir string

	// target describes where files are synced to, and previewURL is where
	// the result can be viewed.
	target     string
	previewURL string

	// published is whether the target is live on the store. It's checked
	// once at startup.
	published bool

	settingsPath string

	// canPrompt is false if prompts should be answered with their defaults.
	canPrompt     bool
	promptYesOrNo func(string) (bool, error)
	showProgress  bool

	// The prompt answers are cached so that each question is asked at most
	// once.
	continueSync *bool
	skipSettings *bool

	progress *util.ProgressPrinter
}

func (l *listeners) register(hub *hooks.Hub) {
	hub.Tap(hooks.PreSync, "prompts", l.preSync)
	hub.Tap(hooks.SyncSkipped, "cli", l.syncSkipped)
	hub.Tap(hooks.SyncStart, "cli", l.syncStart)
	hub.Tap(hooks.SyncDone, "cli", l.syncDone)
	hub.Tap(hooks.SyncFailed, "cli", l.syncFailed)
	hub.Tap(hooks.PostSync, "cli", l.postSync)
}

func (l *listeners) preSync(_ context.Context, event *hooks.Event) error {
	if l.continueSync == nil {
		answer := true
		if l.published {
			var err error
			answer, err = l.ask(fmt.Sprintf("The theme on %s is published, "+
				"so changes will be visible to customers. Continue?", l.target), false)
			if err != nil {
				return errors.WithContext(err, "prompt")
			}
		}
		l.continueSync = &answer
	}

	if !*l.continueSync {
		event.Decision = hooks.Abort
		return nil
	}

	if !containsSettings(event.Files, l.settingsPath) {
		return nil
	}

	if l.skipSettings == nil {
		upload, err := l.ask(fmt.Sprintf("Upload your local %s? This replaces the "+
			"customizations made in the theme editor.", l.settingsPath), false)
		if err != nil {
			return errors.WithContext(err, "prompt")
		}
		skip := !upload
		l.skipSettings = &skip
	}
	event.SkipSettings = *l.skipSettings
	return nil
}

// ask prompts the user, or returns `def` if the user can't be prompted.
func (l *listeners) ask(question string, def bool) (bool, error) {
	if !l.canPrompt {
		log.WithField("question", question).WithField("answer", def).
			Debug("Not prompting. Using default answer")
		return def, nil
	}
	return l.promptYesOrNo(question)
}

func (l *listeners) syncSkipped(_ context.Context, event *hooks.Event) error {
	fmt.Fprintln(l.out, "Skipping first deployment because --skipFirstDeploy flag")
	analytics.Event(eventPrefix+"skip-first-deploy", log.Fields{"files": len(event.Files)})
	return nil
}

func (l *listeners) syncStart(_ context.Context, event *hooks.Event) error {
	analytics.Event(eventPrefix+"sync-start", log.Fields{
		"files":      len(event.Files),
		"firstCycle": event.FirstCycle,
	})
	if len(event.Files) == 0 {
		return nil
	}

	msg := fmt.Sprintf("Uploading %d %s to %s..", len(event.Files),
		pluralize(len(event.Files), "file"), l.target)
	if !l.showProgress {
		fmt.Fprintln(l.out, msg)
		return nil
	}
	l.progress = util.NewProgressPrinter(l.out, msg)
	go l.progress.Run()
	return nil
}

// stopProgress stops the upload spinner if one is running.
func (l *listeners) stopProgress() {
	if l.progress != nil {
		l.progress.StopWithPrint(util.ClearProgress)
		l.progress = nil
	}
}

func (l *listeners) syncDone(_ context.Context, event *hooks.Event) error {
	l.stopProgress()
	analytics.Event(eventPrefix+"sync-end", log.Fields{"files": len(event.Files)})
	if len(event.Files) == 0 {
		return nil
	}

	fmt.Fprintf(l.out, "Uploaded %d %s (%s).\n", len(event.Files),
		pluralize(len(event.Files), "file"), humanize.Bytes(l.totalSize(event.Files)))
	fmt.Fprintln(l.out, "Files uploaded successfully! Your theme is running at:")
	fmt.Fprintf(l.out, "\n  %s\n\n", goterm.Color(l.previewURL, goterm.CYAN))
	return nil
}

func (l *listeners) syncFailed(_ context.Context, event *hooks.Event) error {
	l.stopProgress()
	analytics.Log.WithError(event.Err).WithField("files", len(event.Files)).
		Error(eventPrefix + "sync-failed")

	msg := fmt.Sprintf("Failed to upload files to %s: %s", l.target,
		errors.GetPrintableMessage(event.Err))
	fmt.Fprintln(l.out, goterm.Color(msg, goterm.RED))
	return nil
}

func (l *listeners) postSync(_ context.Context, _ *hooks.Event) error {
	fmt.Fprintln(l.out, "Watching for changes...")
	return nil
}

func (l *listeners) onCompile(build sync.BuildOutput) {
	switch {
	case len(build.Errors) != 0:
		analytics.Event(eventPrefix+"compile-errors", log.Fields{
			"errors":   build.Errors,
			"duration": build.Duration.Seconds(),
		})
		fmt.Fprintln(l.out, goterm.Color("Failed to compile.", goterm.RED))
		for _, msg := range build.Errors {
			fmt.Fprintf(l.out, "\n%s\n", msg)
		}
	case len(build.Warnings) != 0:
		analytics.Event(eventPrefix+"compile-warnings", log.Fields{
			"warnings": build.Warnings,
			"duration": build.Duration.Seconds(),
		})
		fmt.Fprintln(l.out, goterm.Color("Compiled with warnings.", goterm.YELLOW))
		for _, msg := range build.Warnings {
			fmt.Fprintf(l.out, "\n%s\n", msg)
		}
	default:
		analytics.Event(eventPrefix+"compile-success", log.Fields{
			"duration": build.Duration.Seconds(),
		})
		fmt.Fprintln(l.out, goterm.Color(fmt.Sprintf("Compiled successfully in %s!",
			formatDuration(build.Duration)), goterm.GREEN))
	}
}

func (l *listeners) totalSize(files []string) uint64 {
	var total uint64
	for _, f := range files {
		fi, err := l.fs.Stat(filepath.Join(l.distDir, filepath.FromSlash(f)))
		if err != nil {
			continue
		}
		total += uint64(fi.Size())
	}
	return total
}

func containsSettings(files []string, settingsPath string) bool {
	for _, f := range files {
		if strings.HasSuffix(f, settingsPath) {
			return true
		}
	}
	return false
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
