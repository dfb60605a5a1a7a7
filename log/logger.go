// Package log is the structured, leveled, contextual logger used by every
// other package in this module instead of fmt.Println or the stdlib log
// package. Loggers carry an immutable key/value context that children
// inherit and extend, matching the shape the engine needs: "this log line
// is about breakpoint #4 in file X" should not need repeating at every call
// site once a scoped logger has been created.
package log

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

const skipLevel = 2

// Lvl is a logging severity level, ordered from most to least severe.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

// String returns the 4-character name of the level, used in log lines.
func (l Lvl) String() string {
	switch l {
	case LvlTrace:
		return "trce"
	case LvlDebug:
		return "dbug"
	case LvlInfo:
		return "info"
	case LvlWarn:
		return "warn"
	case LvlError:
		return "eror"
	case LvlCrit:
		return "crit"
	default:
		return "????"
	}
}

// Ctx is a map of key/value pairs, usable anywhere a ...interface{} context
// is expected, for call sites that prefer named fields over positional ones.
type Ctx map[string]interface{}

func (c Ctx) toArray() []interface{} {
	arr := make([]interface{}, 0, len(c)*2)
	for k, v := range c {
		arr = append(arr, k, v)
	}
	return arr
}

// Logger writes leveled, contextual messages to an underlying Handler.
type Logger interface {
	// New returns a child logger with this logger's context plus ctx.
	New(ctx ...interface{}) Logger
	SetHandler(h Handler)

	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

// Handler is anything that can persist a Record.
type Handler interface {
	Log(r *Record) error
}

// Record is the fully assembled event a Logger hands to its Handler.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}
	Call stack.Call
}

type logger struct {
	ctx []interface{}
	mu  sync.RWMutex
	h   Handler
}

// Root is the default logger; New() creates children from it.
var root = &logger{h: StreamHandler(os.Stderr)}

// New returns a child of the root logger carrying the given context.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

// SetDefaultHandler replaces the root logger's handler (e.g. to redirect to a file).
func SetDefaultHandler(h Handler) { root.SetHandler(h) }

func (l *logger) New(ctx ...interface{}) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &logger{ctx: newContext(l.ctx, ctx), h: l.h}
}

func newContext(prefix, suffix []interface{}) []interface{} {
	suffix = normalize(suffix)
	out := make([]interface{}, 0, len(prefix)+len(suffix))
	out = append(out, prefix...)
	out = append(out, suffix...)
	return out
}

func normalize(ctx []interface{}) []interface{} {
	if len(ctx) == 1 {
		if m, ok := ctx[0].(Ctx); ok {
			return m.toArray()
		}
	}
	if len(ctx)%2 != 0 {
		ctx = append(ctx, nil, "LOG_ERROR", "odd number of context args")
	}
	return ctx
}

func (l *logger) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h = h
}

func (l *logger) write(msg string, lvl Lvl, ctx []interface{}) {
	l.mu.RLock()
	h := l.h
	full := newContext(l.ctx, ctx)
	l.mu.RUnlock()
	if h == nil {
		return
	}
	_ = h.Log(&Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  full,
		Call: stack.Caller(skipLevel),
	})
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(msg, LvlTrace, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(msg, LvlDebug, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(msg, LvlInfo, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(msg, LvlWarn, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(msg, LvlError, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	l.write(msg, LvlCrit, ctx)
	os.Exit(1)
}

// Package-level convenience wrappers delegating to the root logger.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }

type streamHandler struct {
	mu sync.Mutex
	w  *os.File
}

// StreamHandler returns a Handler that writes aligned "lvl msg k=v..." lines to w.
func StreamHandler(w *os.File) Handler { return &streamHandler{w: w} }

func (h *streamHandler) Log(r *Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%s[%s] %s", r.Time.Format("2006-01-02T15:04:05.000"), r.Lvl, r.Msg)
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		fmt.Fprintf(buf, " %v=%v", r.Ctx[i], formatValue(r.Ctx[i+1]))
	}
	buf.WriteByte('\n')
	_, err := h.w.Write(buf.Bytes())
	return err
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, " \t\n\"") {
			return fmt.Sprintf("%q", t)
		}
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// DiscardHandler silently drops every record; used in tests.
func DiscardHandler() Handler { return discard{} }

type discard struct{}

func (discard) Log(*Record) error { return nil }

// LvlFilterHandler returns a Handler that drops any record more verbose
// than maxLvl before passing the rest to h, the same "--verbosity" wiring
// go-ethereum's own cmd/geth puts in front of its root logger.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return &lvlFilterHandler{maxLvl: maxLvl, h: h}
}

type lvlFilterHandler struct {
	maxLvl Lvl
	h      Handler
}

func (f *lvlFilterHandler) Log(r *Record) error {
	if r.Lvl > f.maxLvl {
		return nil
	}
	return f.h.Log(r)
}
