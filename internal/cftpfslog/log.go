// Package cftpfslog is the thin logging shim every package in this module
// goes through. It mirrors the teacher's fs.Debugf/fs.Errorf call style -
// free functions keyed on a subject, rather than methods on a logger
// value threaded through every call - but backs it with logrus instead of
// a bespoke logging package, since that's the library actually pinned in
// the source repo's dependency list.
package cftpfslog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

// Configure sets the global log level (Debug with debug on, Info
// otherwise) and a full-timestamp text formatter in both cases. It is meant to be called once, from main, before the
// filesystem starts serving requests.
func Configure(debug bool) {
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// Debugf logs a message that only matters with --debug on, prefixed with
// the subject it concerns (typically a remote path).
func Debugf(subject interface{}, format string, args ...interface{}) {
	std.WithField("subject", fmt.Sprint(subject)).Debugf(format, args...)
}

// Logf logs an informational message.
func Logf(subject interface{}, format string, args ...interface{}) {
	std.WithField("subject", fmt.Sprint(subject)).Infof(format, args...)
}

// Errorf logs an error-level message. It does not wrap or return an
// error - callers still return their own error/status up the call chain,
// this only records that it happened.
func Errorf(subject interface{}, format string, args ...interface{}) {
	std.WithField("subject", fmt.Sprint(subject)).Errorf(format, args...)
}
