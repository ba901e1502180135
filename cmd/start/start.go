package start

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/slate-tools/cmd/util"
	"github.com/sidkik/slate-tools/pkg/analytics"
	"github.com/sidkik/slate-tools/pkg/compiler"
	"github.com/sidkik/slate-tools/pkg/config"
	"github.com/sidkik/slate-tools/pkg/devserver"
	"github.com/sidkik/slate-tools/pkg/errors"
	syncClient "github.com/sidkik/slate-tools/pkg/sync/client"
)

const defaultEnvironment = "development"

// Mocked for unit testing.
var (
	stdout        io.Writer = os.Stdout
	fs                      = afero.NewOsFs()
	parseProject            = config.ParseProject
	promptYesOrNo           = util.PromptYesOrNo
	isTerminal              = util.IsTerminal
	newTransport            = newTransportImpl
)

type startCmd struct {
	envName         string
	configPath      string
	skipFirstDeploy bool
	noPrompt        bool
}

// New creates a new `start` command.
func New() *cobra.Command {
	var cmd startCmd
	cobraCmd := &cobra.Command{
		Use:   "start",
		Short: "Compile the theme, and sync it to the store as it changes",
		Long: `Run the theme's bundler, and upload the files it writes to the dist
directory whenever a build finishes. Only the files that changed since the
previous build are uploaded.

The compiled assets are also served locally, and open previews are reloaded
after each upload.`,
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err := cmd.run(ctx)
			if errors.Is(err, errors.ErrAborted) {
				fmt.Fprintln(stdout, "Stopped syncing. No files were uploaded.")
				return
			}
			if err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cobraCmd.Flags().StringVarP(&cmd.envName, "env", "e", defaultEnvironment,
		"The environment in the project config to sync to.")
	cobraCmd.Flags().StringVar(&cmd.configPath, "config", config.DefaultProjectPath,
		"The path to the project config.")
	cobraCmd.Flags().BoolVar(&cmd.skipFirstDeploy, "skipFirstDeploy", false,
		"Don't upload the files from the first build. "+
			"Only files that change afterwards are uploaded.")
	cobraCmd.Flags().BoolVar(&cmd.noPrompt, "no-prompt", false,
		"Don't ask for confirmation. The default answer is used for all prompts.")
	return cobraCmd
}

func (cmd startCmd) run(ctx context.Context) error {
	project, err := parseProject(cmd.configPath)
	if err != nil {
		return err
	}

	env, err := project.Environment(cmd.envName)
	if err != nil {
		return err
	}
	analytics.SetEnvironment(env.Name)

	debounce, err := project.DebounceDuration()
	if err != nil {
		return err
	}

	transport, target, err := newTransport(ctx, project.Paths.Dist, env)
	if err != nil {
		return errors.WithContext(err, "create sync client")
	}
	defer transport.Close()

	// The target is resolved once, so that the prompts don't depend on
	// requests made in the middle of a cycle.
	published, err := transport.IsPublished(ctx)
	if err != nil {
		return errors.WithContext(err, "check if theme is published")
	}

	canPrompt := !cmd.noPrompt && isTerminal()
	l := &listeners{
		out:           stdout,
		fs:            fs,
		distDir:       project.Paths.Dist,
		target:        target,
		published:     published,
		previewURL:    previewURL(env),
		settingsPath:  devserver.DefaultSettingsPath,
		canPrompt:     canPrompt,
		promptYesOrNo: promptYesOrNo,
		showProgress:  canPrompt,
	}

	server := devserver.New(devserver.Config{
		Port:    project.Port,
		DistDir: project.Paths.Dist,
		Ignore:  env.Ignore,
		Watcher: compiler.Options{
			Command:  project.Build.Command,
			Dir:      filepath.Dir(project.GetPath()),
			Debounce: debounce,
		},
		Coordinator: devserver.Options{
			SkipFirstDeploy: cmd.skipFirstDeploy,
		},
		OnCompile: l.onCompile,
	}, transport, log.StandardLogger())
	l.register(server.Hooks())

	fmt.Fprintf(stdout, "Serving compiled assets at http://localhost:%d\n", project.Port)
	fmt.Fprintf(stdout, "Add <script src=\"http://localhost:%d%s\"></script> "+
		"to the theme layout to reload previews after each upload.\n\n",
		project.Port, devserver.ReloadScriptPath)

	err = server.Run(ctx)

	// An upload that was interrupted by the shutdown never finishes, so its
	// spinner has to be stopped here.
	l.stopProgress()
	return err
}

// newTransportImpl creates the client for syncing to `env`. It also returns
// a description of the target for messages.
func newTransportImpl(ctx context.Context, distDir string, env config.Environment) (
	syncClient.Client, string, error) {

	if env.S3 != nil {
		analytics.SetTarget("s3")
		client, err := syncClient.NewS3Client(ctx, fs, distDir, *env.S3, log.StandardLogger())
		if err != nil {
			return nil, "", err
		}
		return client, fmt.Sprintf("s3://%s/%s", env.S3.Bucket, env.S3.Prefix), nil
	}

	analytics.SetTarget("theme")
	client, err := syncClient.NewThemeClient(fs, distDir, env, log.StandardLogger())
	if err != nil {
		return nil, "", err
	}
	return client, env.Store, nil
}

func previewURL(env config.Environment) string {
	if env.S3 != nil {
		return fmt.Sprintf("s3://%s/%s", env.S3.Bucket, env.S3.Prefix)
	}
	return env.PreviewURL()
}
