package errors

import (
	"fmt"
	"strings"
)

// ErrAborted is returned once the operator declines to continue syncing to
// a published theme. It ends the watch loop without being a failure.
var ErrAborted = New("sync aborted by user")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// UnknownEnvironment is returned when the requested environment isn't
// defined in the project config.
type UnknownEnvironment struct {
	Name  string
	Known []string
}

func (err UnknownEnvironment) Error() string {
	return fmt.Sprintf("unknown environment %q", err.Name)
}

// FriendlyMessage lists the environments that can be used instead.
func (err UnknownEnvironment) FriendlyMessage() string {
	if len(err.Known) == 0 {
		return fmt.Sprintf("Environment %q isn't defined. "+
			"The project config doesn't have any environments.", err.Name)
	}
	return fmt.Sprintf("Environment %q isn't defined. Pass one of the "+
		"following with --env: %s", err.Name, strings.Join(err.Known, ", "))
}
