package async

import (
	"runtime/debug"

	"github.com/tryfix/log"
)

// LogPanicTrace is deferred by every goroutine the engine owns. A panic in a
// processing goroutine is not recoverable so the process exits with a trace.
func LogPanicTrace(logger log.Logger) {
	if r := recover(); r != nil {
		logger.Fatal(`goroutine panicked`, r, string(debug.Stack()))
	}
}
