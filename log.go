package main

import (
	"fmt"
	"os"
	"sync"
)

// outcome is the class tag the log format puts first on every line.
type outcome int

const (
	outcomeUnknown outcome = iota
	outcomeKnown
)

func (o outcome) String() string {
	if o == outcomeKnown {
		return "KNOWN"
	}
	return "UNKNOWN"
}

// LogEvent is one line of the raw syscall log: a class tag, the
// object path, its text offset, the syscall number, its arguments, and
// the outcome. interceptRoutine (dispatcher.go) builds one value per
// call; logWriter below only knows how to format it, keeping
// dispatcher.go limited to policy and this file limited to formatting.
type LogEvent struct {
	Outcome    outcome
	ObjPath    string
	Offset     uintptr
	SyscallNum uintptr
	Args       [6]uintptr
	HasResult  bool
	Result     uintptr
}

// buildLogEvent fills in the object/offset pair from the firing patch,
// when one was identified; a nil patch (possible only for a magic
// syscall, which never reaches here) logs with an empty path.
func buildLogEvent(oc outcome, patch *PatchDescriptor, nr, a0, a1, a2, a3, a4, a5, result uintptr) LogEvent {
	ev := LogEvent{
		Outcome:    oc,
		SyscallNum: nr,
		Args:       [6]uintptr{a0, a1, a2, a3, a4, a5},
		HasResult:  oc == outcomeKnown,
		Result:     result,
	}
	if patch != nil && patch.Owner != nil {
		ev.ObjPath = patch.Owner.Path
		ev.Offset = patch.SyscallAddr - patch.Owner.BaseAddr
	}
	return ev
}

// logWriter serializes writes to the log file named by INTERCEPT_LOG.
// One process-wide instance; nil (theLog) when no log path was
// configured, in which case logEvent is a no-op.
type logWriter struct {
	mu sync.Mutex
	f  *os.File
}

var theLog *logWriter

// openLog opens the raw syscall log named by INTERCEPT_LOG:
// append-only by default, truncated on open when INTERCEPT_LOG_TRUNC
// is set (every call truncates in that case; there is no first-open
// tracking). A header line embeds the addr2line
// recipe a reader decodes object+offset pairs with.
func openLog(cfg *config) error {
	if cfg.logPath == "" {
		return nil
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.logTrunc {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.logPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening intercept log %s: %v", cfg.logPath, err)
	}
	theLog = &logWriter{f: f}
	fmt.Fprintf(f, "# decode addresses with: addr2line -e <object> -f -C <offset>\n")
	return nil
}

// logEvent appends one formatted line for ev. Safe to call from any
// thread; the dispatcher runs synchronously on the calling thread,
// but two threads can still hit patched sites concurrently.
func logEvent(ev LogEvent) {
	if theLog == nil {
		return
	}
	theLog.mu.Lock()
	defer theLog.mu.Unlock()
	if ev.HasResult {
		fmt.Fprintf(theLog.f, "%s %s+%#x nr=%d args=(%#x,%#x,%#x,%#x,%#x,%#x) result=%#x\n",
			ev.Outcome, ev.ObjPath, ev.Offset, ev.SyscallNum,
			ev.Args[0], ev.Args[1], ev.Args[2], ev.Args[3], ev.Args[4], ev.Args[5], ev.Result)
		return
	}
	fmt.Fprintf(theLog.f, "%s %s+%#x nr=%d args=(%#x,%#x,%#x,%#x,%#x,%#x)\n",
		ev.Outcome, ev.ObjPath, ev.Offset, ev.SyscallNum,
		ev.Args[0], ev.Args[1], ev.Args[2], ev.Args[3], ev.Args[4], ev.Args[5])
}
