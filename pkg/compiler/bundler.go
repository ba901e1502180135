package compiler

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	goSync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/slate-tools/pkg/errors"
)

// stopTimeout is how long the bundler has to exit after being interrupted
// before it's killed.
const stopTimeout = 5 * time.Second

// diagnostics collects the errors and warnings reported by the bundler
// between builds.
type diagnostics struct {
	lock     goSync.Mutex
	errors   []string
	warnings []string
}

// record classifies a line of bundler output. Bundlers such as webpack
// prefix problems with "ERROR" or "WARNING".
func (d *diagnostics) record(line string) {
	trimmed := strings.TrimSpace(line)
	upper := strings.ToUpper(trimmed)

	d.lock.Lock()
	defer d.lock.Unlock()
	switch {
	case strings.HasPrefix(upper, "ERROR"):
		d.errors = append(d.errors, trimmed)
	case strings.HasPrefix(upper, "WARNING"):
		d.warnings = append(d.warnings, trimmed)
	}
}

// drain returns the diagnostics recorded since the last call.
func (d *diagnostics) drain() (errs, warnings []string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	errs, warnings = d.errors, d.warnings
	d.errors, d.warnings = nil, nil
	return errs, warnings
}

// startBundler runs `command` in `dir`, and forwards its output to the
// logger. The process is interrupted when `ctx` is cancelled. The returned
// channel receives the process's exit error.
func startBundler(ctx context.Context, command []string, dir string,
	logger *logrus.Logger, diag *diagnostics) (<-chan error, error) {

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithContext(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.WithContext(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WithContext(err, "start")
	}

	bundlerLog := logger.WithField("bundler", command[0])
	var outputWaitGroup goSync.WaitGroup
	forward := func(r io.Reader, level logrus.Level) {
		defer outputWaitGroup.Done()
		lines := bufio.NewScanner(r)
		for lines.Scan() {
			line := lines.Text()
			diag.record(line)
			bundlerLog.Log(level, line)
		}
	}
	outputWaitGroup.Add(2)
	go forward(stdout, logrus.DebugLevel)
	go forward(stderr, logrus.WarnLevel)

	exited := make(chan error, 1)
	go func() {
		// The pipes must be fully read before calling Wait.
		outputWaitGroup.Wait()
		exited <- cmd.Wait()
	}()
	return exited, nil
}
