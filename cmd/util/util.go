package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/slate-tools/pkg/analytics"
	"github.com/sidkik/slate-tools/pkg/errors"
)

// ClearProgress is the escape sequence that erases the line written by a
// ProgressPrinter.
const ClearProgress = "\033[2K\r"

var (
	// Mocked out for unit testing.
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	exit             = os.Exit
)

// HandleFatalError prints the error and exits. Friendly errors are printed
// as is, and other errors are printed with their context.
func HandleFatalError(err error) {
	analytics.Log.WithError(err).Error("Fatal error")
	log.WithError(err).Debug("Fatal error")

	fmt.Fprintln(stdout, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic records panics to analytics, and re-panics so that the stack
// trace is printed.
func HandlePanic() {
	if r := recover(); r != nil {
		analytics.Log.WithField("stack", string(debug.Stack())).
			WithField("panic", fmt.Sprintf("%v", r)).
			Error("Panic")
		panic(r)
	}
}

// IsTerminal returns whether stdin is attached to a terminal, and so whether
// the user can answer prompts.
func IsTerminal() bool {
	f, ok := stdin.(*os.File)
	return ok && terminal.IsTerminal(int(f.Fd()))
}

// PromptYesOrNo asks the user the given question, and returns whether they
// answered yes.
func PromptYesOrNo(prompt string) (bool, error) {
	reader := bufio.NewReader(stdin)
	for {
		fmt.Fprintf(stdout, "%s (y/N) ", prompt)
		resp, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || resp == "") {
			return false, errors.WithContext(err, "read response")
		}

		switch strings.ToLower(strings.TrimSpace(resp)) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		}

		if err == io.EOF {
			return false, nil
		}
		fmt.Fprintln(stdout, "Please answer y or n.")
	}
}

// ProgressPrinter prints a message followed by an animated spinner until it's
// stopped.
type ProgressPrinter struct {
	out     io.Writer
	msg     string
	stop    chan string
	stopped chan struct{}
}

// NewProgressPrinter creates a ProgressPrinter. The spinner doesn't start
// until Run is called.
func NewProgressPrinter(out io.Writer, msg string) *ProgressPrinter {
	return &ProgressPrinter{
		out:     out,
		msg:     msg,
		stop:    make(chan string),
		stopped: make(chan struct{}),
	}
}

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Run prints the spinner until Stop or StopWithPrint is called.
func (pp *ProgressPrinter) Run() {
	defer close(pp.stopped)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(pp.out, "\r%s %s", pp.msg, spinnerFrames[i%len(spinnerFrames)])
		select {
		case <-ticker.C:
		case final := <-pp.stop:
			fmt.Fprint(pp.out, final)
			return
		}
	}
}

// Stop stops the spinner, and moves to the next line.
func (pp *ProgressPrinter) Stop() {
	pp.StopWithPrint("\n")
}

// StopWithPrint stops the spinner and prints `final`. It blocks until the
// spinner has stopped.
func (pp *ProgressPrinter) StopWithPrint(final string) {
	pp.stop <- final
	<-pp.stopped
}
