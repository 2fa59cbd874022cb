package remix

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// DefaultLogger writes "[prefix] LEVEL frame N: message" lines. The frame stamp appears once a
// frame source is attached and the scene has started its first frame.
type DefaultLogger struct {
	mu     sync.Mutex
	debug  bool
	prefix string
	frame  func() uint32
	out    *log.Logger
	err    *log.Logger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return NewLogger(prefix, debug, os.Stdout, os.Stderr)
}

// NewLogger writes debug and info lines to out, warnings and errors to errOut.
func NewLogger(prefix string, debug bool, out, errOut io.Writer) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	return &DefaultLogger{
		debug:  debug,
		prefix: prefix,
		out:    log.New(out, "", flags),
		err:    log.New(errOut, "", flags),
	}
}

// StampFrames attaches the frame counter every line is stamped with. The host wires the scene's
// current frame here so render-thread and worker output can be lined up per frame.
func (l *DefaultLogger) StampFrames(src func() uint32) {
	l.mu.Lock()
	l.frame = src
	l.mu.Unlock()
}

func (l *DefaultLogger) DebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

func (l *DefaultLogger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	l.mu.Unlock()
}

func (l *DefaultLogger) format(level Level, format string, args ...any) string {
	l.mu.Lock()
	src := l.frame
	l.mu.Unlock()

	head := level.String()
	if l.prefix != "" {
		head = "[" + l.prefix + "] " + head
	}
	// frame 0 means no frame has begun yet
	if src != nil {
		if f := src(); f > 0 {
			head = fmt.Sprintf("%s frame %d", head, f)
		}
	}
	return head + ": " + fmt.Sprintf(format, args...)
}

func (l *DefaultLogger) logf(level Level, format string, args ...any) {
	if level == LevelDebug && !l.DebugEnabled() {
		return
	}
	w := l.out
	if level >= LevelWarn {
		w = l.err
	}
	w.Print(l.format(level, format, args...))
}

func (l *DefaultLogger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *DefaultLogger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *DefaultLogger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *DefaultLogger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

type nopLogger struct{}

func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) DebugEnabled() bool    { return false }
func (nopLogger) SetDebug(bool)         {}
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
