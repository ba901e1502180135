package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	goversion "github.com/hashicorp/go-version"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/slate-tools/pkg/errors"
	"github.com/sidkik/slate-tools/pkg/version"
)

const (
	// DefaultProjectPath is where the project config is read from if no path
	// is given.
	DefaultProjectPath = "slate.yaml"

	// SupportedProjectVersion is the project config version understood by
	// this binary.
	SupportedProjectVersion = "v1alpha1"

	// PasswordEnvVar is used for environments that don't set a password in
	// the config file, so that the password doesn't have to be committed.
	PasswordEnvVar = "SLATE_PASSWORD"

	defaultDistDir  = "dist"
	defaultPort     = 3000
	defaultDebounce = 200 * time.Millisecond
	defaultTimeout  = 60 * time.Second
)

// Project is the configuration for a theme project.
type Project struct {
	Version      string                 `json:"version"`
	SlateVersion string                 `json:"slateVersion,omitempty"`
	Paths        Paths                  `json:"paths,omitempty"`
	Port         int                    `json:"port,omitempty"`
	Build        Build                  `json:"build,omitempty"`
	Environments map[string]Environment `json:"environments"`

	// path is where the config was read from.
	path string
}

// Paths are the locations of the theme's files. Relative paths are relative
// to the config file.
type Paths struct {
	Dist string `json:"dist,omitempty"`
}

// Build configures the bundler that writes to the dist directory.
type Build struct {
	// Command is run in the background for the lifetime of `slate start`.
	// It's expected to rebuild the dist directory whenever the sources
	// change, e.g. `webpack --watch`.
	Command []string `json:"command,omitempty"`

	// Debounce is how long the dist directory must be quiet before the
	// build is considered complete.
	Debounce string `json:"debounce,omitempty"`
}

// Environment is a target that the theme is synced to.
type Environment struct {
	Name     string   `json:"-"`
	Store    string   `json:"store,omitempty"`
	ThemeID  string   `json:"themeId,omitempty"`
	Password string   `json:"password,omitempty"`
	Ignore   []string `json:"ignore,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`

	// S3 syncs the theme into a bucket instead of the theme API.
	S3 *S3Target `json:"s3,omitempty"`
}

// S3Target is a bucket that the theme is synced to.
type S3Target struct {
	Bucket string `json:"bucket"`
	Region string `json:"region,omitempty"`
	Prefix string `json:"prefix,omitempty"`

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `json:"endpoint,omitempty"`
}

func (p Project) getVersion() string {
	return p.Version
}

// ParseProject reads the project config at `path`.
func ParseProject(path string) (Project, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return Project{}, errors.WithContext(err, "expand config path")
	}

	var project Project
	if err := parseConfig(path, &project, SupportedProjectVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Project{}, errors.NewFriendlyError("The project config "+
				"doesn't exist at %q. Run `slate start` from the theme's "+
				"root directory, or pass the path with --config.", path)
		}
		return Project{}, errors.WithContext(err, "parse")
	}
	project.path = path

	if err := checkSlateVersion(project.SlateVersion); err != nil {
		return Project{}, err
	}

	if project.Paths.Dist == "" {
		project.Paths.Dist = defaultDistDir
	}
	project.Paths.Dist, err = homedir.Expand(project.Paths.Dist)
	if err != nil {
		return Project{}, errors.WithContext(err, "expand dist path")
	}
	if !filepath.IsAbs(project.Paths.Dist) {
		project.Paths.Dist = filepath.Join(filepath.Dir(path), project.Paths.Dist)
	}

	if project.Port == 0 {
		project.Port = defaultPort
	}

	if _, err := project.DebounceDuration(); err != nil {
		return Project{}, err
	}
	return project, nil
}

// GetPath returns the path that the config was read from.
func (p Project) GetPath() string {
	return p.path
}

// DebounceDuration returns how long to wait for the bundler to go quiet.
func (p Project) DebounceDuration() (time.Duration, error) {
	return parseDuration("build.debounce", p.Build.Debounce, defaultDebounce)
}

// Environment returns the environment called `name`, with the defaults
// filled in.
func (p Project) Environment(name string) (Environment, error) {
	env, ok := p.Environments[name]
	if !ok {
		var known []string
		for name := range p.Environments {
			known = append(known, name)
		}
		sort.Strings(known)
		return Environment{}, errors.UnknownEnvironment{Name: name, Known: known}
	}

	env.Name = name
	if env.Password == "" {
		env.Password = os.Getenv(PasswordEnvVar)
	}

	field := func(f string) string {
		return fmt.Sprintf("environments.%s.%s", name, f)
	}
	if env.S3 != nil {
		if env.S3.Bucket == "" {
			return Environment{}, errors.MissingFieldError{Field: field("s3.bucket")}
		}
	} else {
		if env.Store == "" {
			return Environment{}, errors.MissingFieldError{Field: field("store")}
		}
		if env.ThemeID == "" {
			return Environment{}, errors.MissingFieldError{Field: field("themeId")}
		}
	}

	if _, err := env.TimeoutDuration(); err != nil {
		return Environment{}, err
	}
	return env, nil
}

// PreviewURL is where the synced theme can be viewed.
func (env Environment) PreviewURL() string {
	return fmt.Sprintf("https://%s?preview_theme_id=%s", env.Store, env.ThemeID)
}

// TimeoutDuration returns the timeout for requests to the environment.
func (env Environment) TimeoutDuration() (time.Duration, error) {
	return parseDuration(fmt.Sprintf("environments.%s.timeout", env.Name),
		env.Timeout, defaultTimeout)
}

func parseDuration(field, value string, defaultValue time.Duration) (time.Duration, error) {
	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.NewFriendlyError(
			"Invalid duration %q for `%s`. Durations look like \"200ms\" or \"1m\".",
			value, field)
	}
	return d, nil
}

// checkSlateVersion errors if the running binary doesn't satisfy the version
// constraint declared by the project. Development builds are always allowed.
func checkSlateVersion(constraint string) error {
	if constraint == "" || !version.IsRelease() {
		return nil
	}

	constraints, err := goversion.NewConstraint(constraint)
	if err != nil {
		return errors.NewFriendlyError("Invalid version constraint %q for "+
			"`slateVersion`: %s", constraint, err)
	}

	current, err := goversion.NewVersion(version.Version)
	if err != nil {
		return errors.WithContext(err, "parse binary version")
	}

	if !constraints.Check(current) {
		return errors.NewFriendlyError("This project requires slate-tools %s, "+
			"but this is version %s.\nPlease upgrade slate-tools.",
			constraint, version.Version)
	}
	return nil
}
