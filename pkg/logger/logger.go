package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the zerolog levels.
type Level int8

const (
	TraceLevel Level = iota - 1
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Field names shared by the console writer and the components.
const (
	ServiceField   = "s"
	SessionField   = "sid"
	DirectionField = "d"
	ModuleField    = "m"
)

// Message directions.
const (
	MarkIn   = "←"
	MarkOut  = "→"
	MarkNone = " "
)

var pid = os.Getpid()

type Logger struct {
	logger *zerolog.Logger
}

// NewConsole makes the stdout logger of a process. The debug switch
// sets the global level.
func NewConsole(isDebug bool, tag string, noColor bool) *Logger {
	logLevel := zerolog.InfoLevel
	if isDebug {
		logLevel = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return newConsole(os.Stdout, tag, noColor)
}

func newConsole(w io.Writer, tag string, noColor bool) *Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.0000", NoColor: noColor,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			"pid",
			zerolog.LevelFieldName,
			ServiceField,
			SessionField,
			DirectionField,
			ModuleField,
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{ServiceField, SessionField, DirectionField, ModuleField, "pid"},
	}

	if output.NoColor {
		output.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("%v", i)
		}
	}

	logger := zerolog.New(output).With().
		Str("pid", fmt.Sprintf("%4x", pid)).
		Str(ServiceField, tag).
		Str(DirectionField, MarkNone).
		Timestamp().Logger()
	return &Logger{logger: &logger}
}

// Nop returns a logger that drops everything, handy in tests.
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{logger: &l}
}

func Default() *Logger { return &Logger{logger: &log.Logger} }

// GetLevel returns the current Level of l.
func (l *Logger) GetLevel() Level { return Level(l.logger.GetLevel()) }

// With creates a child logger with the field added to its context.
func (l *Logger) With() zerolog.Context { return l.logger.With() }

// Level creates a child logger with the minimum accepted level set to level.
func (l *Logger) Level(level zerolog.Level) zerolog.Logger { return l.logger.Level(level) }

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }

// Info starts a new message with info level.
func (l *Logger) Info() *zerolog.Event { return l.logger.Info() }

// Warn starts a new message with warn level.
func (l *Logger) Warn() *zerolog.Event { return l.logger.Warn() }

// Error starts a new message with error level.
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// Fatal starts a new message with fatal level. The os.Exit(1) function
// is called by the Msg method.
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// WithLevel starts a new message with level.
func (l *Logger) WithLevel(level zerolog.Level) *zerolog.Event { return l.logger.WithLevel(level) }

// Extend adds some additional context to the existing logger.
func (l *Logger) Extend(ctx zerolog.Context) *Logger {
	logger := ctx.Logger()
	return &Logger{logger: &logger}
}

// Module returns a child logger tagged with the module name.
func (l *Logger) Module(name string) *Logger {
	return l.Extend(l.With().Str(ModuleField, name))
}

// Session returns a child logger tagged with the session id.
func (l *Logger) Session(id string) *Logger {
	return l.Extend(l.With().Str(SessionField, id))
}
