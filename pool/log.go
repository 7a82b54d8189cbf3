package pool

import (
	"github.com/sirupsen/logrus"
)

// logger is the package-level logger used by the pool package's own
// scheduling logs. Callers that embed this module in a larger program
// redirect it with SetLogger the way rclone lets callers redirect
// fs.Debugf's sink.
var logger = logrus.StandardLogger()

// SetLogger replaces the logger used by the pool package. The backend and
// filter packages log through logrus's standard logger and are not
// affected. Passing nil restores the standard logrus logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	logger = l
}

// Logger returns the logger currently in use, for components (backends,
// filters) that live in other packages but want to log under the same
// sink and "component" field convention.
func Logger() *logrus.Logger { return logger }

// WithComponent returns an entry pre-tagged with component=name, the
// convention every backend/filter package logs under.
func WithComponent(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// logScheduleDecision emits msg at level under component=scheduler,
// skipping the logrus.Fields construction entirely unless that level is
// actually enabled: scheduling decisions happen on every dequeue and
// registration change, so evaluating fields unconditionally would make
// Trace/Debug logging itself a scheduling-throughput concern (SPEC_FULL.md
// §1.1's "logrus's lazy field evaluation idiom").
func logScheduleDecision(level logrus.Level, msg string, fields logrus.Fields) {
	if !logger.IsLevelEnabled(level) {
		return
	}
	WithComponent("scheduler").WithFields(fields).Log(level, msg)
}
