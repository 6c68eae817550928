package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// callerHook points the entry's caller at the first frame outside logrus and
// this package, and names the component after the caller's package when the
// entry carries none.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	frame, ok := externalCaller()
	if !ok {
		return nil
	}
	entry.Caller = &frame
	if _, set := entry.Data["component"]; !set {
		entry.Data["component"] = packageName(frame.Function)
	}
	return nil
}

func externalCaller() (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !internalFrame(frame.Function) {
			return frame, frame.Function != ""
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func internalFrame(fn string) bool {
	return strings.Contains(fn, "sirupsen/logrus") || strings.HasPrefix(fn, "restbridge/logger.")
}

// packageName turns "restbridge/internal/history.(*Assembler).Assemble"
// into "history".
func packageName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 {
		fn = fn[:i]
	}
	return fn
}
