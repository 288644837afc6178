package monitoring

import "log"

// Logf is the process-wide diagnostic logger. It defaults to log.Printf so the
// binaries get timestamped output for free; callers that need to redirect or
// silence the stream (tests, the seed tool) swap it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger rather than leaving Logf nil.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
