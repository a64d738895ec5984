// Package convlog is the engine's leveled-logging shim, modeled on
// pulumi's sdk/go/common/util/logging: callers pick a verbosity level
// with V(n) and log through the returned handle. The -v flag (inherited
// from glog) controls what is actually emitted.
package convlog

import (
	"github.com/golang/glog"
)

// Level is a verbosity level, higher is more verbose.
type Level glog.Level

// V reports whether verbosity at the given level is enabled, returning
// a handle whose methods are no-ops when it is not.
func V(level Level) Verbose {
	return Verbose(glog.V(glog.Level(level)))
}

// Verbose wraps glog.Verbose to keep the glog import localized to this
// package.
type Verbose glog.Verbose

func (v Verbose) Infof(format string, args ...interface{}) {
	glog.Verbose(v).Infof(format, args...)
}

func (v Verbose) Info(args ...interface{}) {
	glog.Verbose(v).Info(args...)
}

// Errorf always logs, regardless of verbosity.
func Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

// Warningf always logs, regardless of verbosity.
func Warningf(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}

// Infof always logs at V(0).
func Infof(format string, args ...interface{}) {
	glog.Infof(format, args...)
}
