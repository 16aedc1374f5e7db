package mount

import (
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

// newDebugLogger builds the logger passed as
// fuse.MountConfig.DebugLogger when -debug is set. The prefix is
// dimmed only when stderr is a terminal.
func newDebugLogger() *log.Logger {
	prefix := "[fuse] "
	if isatty.IsTerminal(os.Stderr.Fd()) {
		prefix = "\x1b[2m[fuse]\x1b[0m "
	}
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmicroseconds)
}
