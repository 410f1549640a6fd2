package global

import (
	"context"

	"go.uber.org/zap"
)

// NodeGlobal is the capability every long-running component of the daemon
// depends on: structured logging, trace tags, fatal assertions, the shared
// shutdown context, and the work-process registry used for orderly drain on
// stop. Components embed this interface rather than *Global directly so they
// can be exercised against a lightweight fake in tests.
type NodeGlobal interface {
	Log() *zap.SugaredLogger
	Tracef(tag string, format string, args ...any)
	Assertf(cond bool, format string, args ...any)
	AssertNoError(err error, prefix ...string)
	Ctx() context.Context
	MarkWorkProcessStarted(name string)
	MarkWorkProcessStopped(name string)
}
