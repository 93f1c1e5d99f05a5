package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide structured logger. Level is driven by
// cfg.LogLevel ("debug" when --debug/-d is set, per Load).
func NewLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// stdLogAdapter lets a zerolog.Logger satisfy github.com/gammazero/nexus/v3/stdlog.StdLog,
// the interface client.Config.Logger expects. The teacher's own main.go wires a
// bare *log.Logger into this exact parameter; this adapter generalizes that
// wiring point to the project's structured logger instead of introducing a
// second, parallel logging path.
type stdLogAdapter struct {
	logger zerolog.Logger
}

// NewStdLogAdapter wraps logger for consumption by gammazero/nexus/v3 client
// and router configuration structs.
func NewStdLogAdapter(logger zerolog.Logger) *stdLogAdapter {
	return &stdLogAdapter{logger: logger}
}

func (a *stdLogAdapter) Print(v ...interface{}) {
	a.logger.Debug().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Println(v ...interface{}) {
	a.logger.Debug().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Printf(format string, v ...interface{}) {
	a.logger.Debug().Msg(fmt.Sprintf(format, v...))
}

func (a *stdLogAdapter) Fatal(v ...interface{}) {
	a.logger.Fatal().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Fatalln(v ...interface{}) {
	a.logger.Fatal().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Fatalf(format string, v ...interface{}) {
	a.logger.Fatal().Msg(fmt.Sprintf(format, v...))
}

func (a *stdLogAdapter) Panic(v ...interface{}) {
	a.logger.Panic().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Panicln(v ...interface{}) {
	a.logger.Panic().Msg(fmt.Sprint(v...))
}

func (a *stdLogAdapter) Panicf(format string, v ...interface{}) {
	a.logger.Panic().Msg(fmt.Sprintf(format, v...))
}
