// Package log provides the process-wide structured logger used by every
// daemon and HTTP handler in fundswitch.
package log

import (
	"cmp"
	"fmt"
	"os"
	"path"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	RFC3339Milli = "2006-01-02T15:04:05.000Z07:00" // like time.RFC3339Nano but fixed-width millis
)

var (
	log   zerolog.Logger
	logMu sync.RWMutex
)

func init() {
	// Allow overriding the default level via $LOG_LEVEL so the env var
	// works even before cmd/fundswitchd's loadConfig runs (e.g. in tests).
	Init(cmp.Or(os.Getenv("LOG_LEVEL"), "info"), "stderr")
}

// Logger returns the current global logger.
func Logger() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	l := log
	return &l
}

func setLogger(l zerolog.Logger) {
	logMu.Lock()
	log = l
	logMu.Unlock()
}

// Init (re)configures the global logger. output is "stdout", "stderr", or
// a file path.
func Init(level, output string) {
	var out *os.File
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}

	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: RFC3339Milli}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger = logger.With().Caller().Logger()
	zerolog.CallerSkipFrameCount = 3
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("%s/%s:%d", path.Base(path.Dir(file)), path.Base(file), line)
	}

	switch level {
	case LevelDebug:
		logger = logger.Level(zerolog.DebugLevel)
	case LevelInfo:
		logger = logger.Level(zerolog.InfoLevel)
	case LevelWarn:
		logger = logger.Level(zerolog.WarnLevel)
	case LevelError:
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		panic(fmt.Sprintf("invalid log level: %q", level))
	}

	setLogger(logger)
	logger.Info().Msgf("logger initialized at level %s, output %s", level, output)
}

// Debugw logs a debug message with key/value pairs.
func Debugw(msg string, keyvalues ...any) { Logger().Debug().Fields(keyvalues).Msg(msg) }

// Infow logs an info message with key/value pairs.
func Infow(msg string, keyvalues ...any) { Logger().Info().Fields(keyvalues).Msg(msg) }

// Warnw logs a warn message with key/value pairs.
func Warnw(msg string, keyvalues ...any) { Logger().Warn().Fields(keyvalues).Msg(msg) }

// Errorw logs an error with a message and optional extra key/value pairs.
func Errorw(err error, msg string, keyvalues ...any) {
	Logger().Error().Err(err).Fields(keyvalues).Msg(msg)
}

// Info logs a plain info message.
func Info(args ...any) { Logger().Info().Msg(fmt.Sprint(args...)) }

// Warn logs a plain warn message.
func Warn(args ...any) { Logger().Warn().Msg(fmt.Sprint(args...)) }

// Fatalf logs at fatal level (including a stack trace) and exits the process.
func Fatalf(template string, args ...any) {
	Logger().Fatal().Msgf(template+"\n"+string(debug.Stack()), args...)
	panic("unreachable")
}
