package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (scan results, connection outcome)
	LevelLive    = 2 // Live info (discoveries, commands, telemetry)
	LevelVerbose = 3 // Verbose (state transitions, timers)
	LevelTrace   = 4 // Trace (every SDK call)
)

// slog levels used for the live and trace tiers. Info and verbose map onto
// slog.LevelInfo and slog.LevelDebug.
const (
	slogLive  = slog.Level(-2)
	slogTrace = slog.Level(-8)
)

var (
	mu     sync.RWMutex
	level  int
	format string
	output io.Writer = os.Stdout
	logger           = slog.New(discardHandler{})
)

// Init initializes the debug system with a level (0-4) and a handler format
// ("text" or "json").
// 0 = no output
// 1 = important info (scan results, connection outcome)
// 2 = live info (discoveries, commands, battery updates)
// 3 = verbose (state transitions, timers, configuration)
// 4 = trace (every outbound SDK call)
func Init(debugLevel int, logFormat string) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	format = logFormat
	rebuild()
}

// SetOutput redirects log output, e.g. to tee it into the web status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		logger = slog.New(discardHandler{})
		return
	}
	opts := &slog.HandlerOptions{Level: slogLevel(level), ReplaceAttr: renameLevels}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "json":
		h = slog.NewJSONHandler(output, opts)
	default:
		h = slog.NewTextHandler(output, opts)
	}
	logger = slog.New(h).With("app", "rotago")
}

// slogLevel converts a debug level to the minimum slog level that is emitted.
func slogLevel(l int) slog.Level {
	switch {
	case l >= LevelTrace:
		return slogTrace
	case l == LevelVerbose:
		return slog.LevelDebug
	case l == LevelLive:
		return slogLive
	default:
		return slog.LevelInfo
	}
}

// renameLevels prints LIVE and TRACE instead of slog's "DEBUG+2" style names.
func renameLevels(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch lvl {
	case slogLive:
		a.Value = slog.StringValue("LIVE")
	case slog.LevelDebug:
		a.Value = slog.StringValue("VERBOSE")
	case slogTrace:
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Logger returns the underlying structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func log(l slog.Level, msg string, args ...any) {
	Logger().Log(context.Background(), l, msg, args...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message.
func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

// Warn prints a warning; shown from level 1.
func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

// Value prints a named value (level 1).
func Value(name string, value any) {
	log(slog.LevelInfo, name, "value", value)
}

// Error prints an error (level 1+).
func Error(msg string, err error, args ...any) {
	log(slog.LevelError, msg, append([]any{"err", err}, args...)...)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message.
func Live(msg string, args ...any) {
	log(slogLive, msg, args...)
}

// Scan prints a scan-session event (level 2).
func Scan(session, msg string, args ...any) {
	log(slogLive, msg, append([]any{"session", session}, args...)...)
}

// Link prints a device-link event (level 2).
func Link(id, msg string, args ...any) {
	log(slogLive, msg, append([]any{"rotator", id}, args...)...)
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message.
func Verbose(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// Section prints a section marker (level 3).
func Section(name string) {
	log(slog.LevelDebug, "━━━━ "+name+" ━━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	log(slog.LevelDebug, description, "step", num)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v any) {
	log(slog.LevelDebug, name, "value", slog.AnyValue(v))
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(msg string, args ...any) {
	log(slogTrace, msg, args...)
}

// SDK prints an outbound SDK call (level 4).
func SDK(op string, args ...any) {
	log(slogTrace, "sdk call", append([]any{"op", op}, args...)...)
}

// GPIO prints a pin operation (level 4).
func GPIO(op string, pin int, value any) {
	log(slogTrace, "gpio", "op", op, "pin", pin, "value", value)
}

// discardHandler drops every record; used while debug output is off.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
