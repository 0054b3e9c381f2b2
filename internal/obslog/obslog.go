// Package obslog wires up the structured logger shared across every
// other package: a single logrus logger, configured once at process
// start, threaded through constructors as a *logrus.Entry carrying
// the component name.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New configures the process-wide logrus logger and returns a root
// entry. level is one of logrus's level strings ("debug", "info",
// "warn", "error"); an unrecognized value falls back to "info".
func New(level string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return logrus.NewEntry(log)
}

// Component returns a child entry tagged with the given component
// name, the convention every constructor in this repo follows when
// accepting a *logrus.Entry.
func Component(root *logrus.Entry, name string) *logrus.Entry {
	return root.WithField("component", name)
}
