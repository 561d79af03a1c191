package transport

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the driver's logging seam: callers may plug in anything that
// implements it (the standard library's *log.Logger already does).
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

// zerologLogger backs both DefaultLogger and DebugLogger with
// github.com/rs/zerolog, the structured logger this stack uses elsewhere
// (e.g. config.CloudConfig's datacenter-not-described warning).
type zerologLogger struct {
	log zerolog.Logger
}

func (z zerologLogger) Print(v ...any)                 { z.log.Info().Msg(fmt.Sprint(v...)) }
func (z zerologLogger) Printf(format string, v ...any) { z.log.Info().Msgf(format, v...) }
func (z zerologLogger) Println(v ...any)               { z.log.Info().Msg(fmt.Sprint(v...)) }

// DefaultLogger discards everything; it is the zero-configuration default
// so a Session never writes to stderr unasked.
var DefaultLogger Logger = zerologLogger{log: zerolog.New(os.Stderr).Level(zerolog.Disabled)}

// DebugLogger logs at info level and above, through zerolog's console writer.
var DebugLogger Logger = zerologLogger{
	log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
}
