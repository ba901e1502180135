package version

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sidkik/slate-tools/pkg/version"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of slate-tools.",
		Run: func(_ *cobra.Command, _ []string) {
			printVersion()
		},
	}
}

func printVersion() {
	fmt.Fprintf(stdout, "slate-tools version: %s\n", version.Version)
	fmt.Fprintf(stdout, "go version:          %s %s/%s\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if !version.IsRelease() {
		fmt.Fprintln(stdout, "This is a development build. "+
			"The slateVersion constraint in slate.yaml is ignored.")
	}
}
