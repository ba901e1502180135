package analytics

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/slate-tools/pkg/version"
)

// EndpointEnvVar is the environment variable that sets where analytics events
// are posted. Events are dropped if it's not set.
const EndpointEnvVar = "SLATE_ANALYTICS_ENDPOINT"

var (
	// Log is the global analytics logger. Log events created via this object are
	// automatically pushed into our analytics system.
	Log = newAnalyticsLogger()

	// Optional values for automatically enriching the event metadata.
	source      string
	environment string
	target      string

	// Mocked out for unit testing.
	httpPost = http.Post
)

func newAnalyticsLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	// Don't publish analytics from `go test`, or from development copies of
	// slate-tools.
	endpoint := os.Getenv(EndpointEnvVar)
	if endpoint != "" && version.IsRelease() {
		logger.AddHook(&hook{endpoint: endpoint, levels: logrus.AllLevels})
	}
	return logger
}

const contentType = "application/json"

var eventFormatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "event",
	},
}

// Event records that `name` happened.
func Event(name string, fields logrus.Fields) {
	Log.WithFields(fields).Info(name)
}

// SetSource sets the command name that is automatically added to events.
func SetSource(s string) {
	source = s
}

// SetEnvironment sets the slate.yaml environment that is automatically added
// to events.
func SetEnvironment(env string) {
	environment = env
}

// SetTarget sets the kind of sync target (e.g. `theme` or `s3`) that is
// automatically added to events.
func SetTarget(t string) {
	target = t
}

type hook struct {
	endpoint string
	levels   []logrus.Level
}

func (h *hook) Levels() []logrus.Level {
	return h.levels
}

func (h *hook) Fire(entry *logrus.Entry) error {
	tags := []string{fmt.Sprintf("slate-version:%s", version.Version)}
	if environment != "" {
		tags = append(tags, fmt.Sprintf("environment:%s", environment))
	}
	if target != "" {
		tags = append(tags, fmt.Sprintf("target:%s", target))
	}

	dataCopy := map[string]interface{}{
		"source": source,
		"tags":   strings.Join(tags, ","),
	}
	for k, v := range entry.Data {
		dataCopy[k] = v
	}

	// Copy the entry so that the caller's entry isn't modified.
	entryCopy := *entry
	entryCopy.Data = dataCopy
	if entry.Level == logrus.PanicLevel {
		entryCopy.Level = logrus.FatalLevel
	}

	jsonBytes, err := eventFormatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal analytics event")
		return nil
	}

	resp, err := httpPost(h.endpoint, contentType, bytes.NewReader(jsonBytes))
	if err != nil {
		logrus.WithError(err).Debug("Failed to post analytics event")
	} else {
		resp.Body.Close()
	}

	// Errors returned by hooks are printed directly to stderr, which would
	// interleave with the CLI output.
	return nil
}
