package microkernel

import (
	"io"

	"github.com/sirupsen/logrus"
)

// klog is the kernel-wide event logger, silent unless a consumer opts in;
// tests and callers can redirect it with SetLogOutput/SetLogLevel.
var klog = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.TraceLevel)
	return l
}()

// SetLogOutput redirects kernel event logging, e.g. to os.Stderr for
// debugging a test failure.
func SetLogOutput(w io.Writer) {
	klog.SetOutput(w)
}

// SetLogLevel adjusts verbosity; see logrus.Level.
func SetLogLevel(level logrus.Level) {
	klog.SetLevel(level)
}
