package logger

import (
	"fmt"
	"io"

	echo_log "github.com/labstack/gommon/log"
)

// EchoAdapter routes echo's framework logging into a Logger so the
// telemetry endpoint logs in the same format as the rest of the process.
//
//	e := echo.New()
//	e.Logger = logger.NewEchoAdapter(log.Module("http"))
type EchoAdapter struct {
	logger Logger
	level  echo_log.Lvl
}

// NewEchoAdapter wraps l. A nil l discards everything.
func NewEchoAdapter(l Logger) *EchoAdapter {
	if l == nil {
		l = NewNopLogger()
	}
	return &EchoAdapter{logger: l, level: echo_log.INFO}
}

// Output is unused; the wrapped logger owns its writers.
func (a *EchoAdapter) Output() io.Writer   { return io.Discard }
func (a *EchoAdapter) SetOutput(io.Writer) {}
func (a *EchoAdapter) Prefix() string      { return "" }
func (a *EchoAdapter) SetPrefix(string)    {}
func (a *EchoAdapter) SetHeader(string)    {}

// Level reports the level echo last set. Filtering stays with the wrapped
// logger's configuration.
func (a *EchoAdapter) Level() echo_log.Lvl         { return a.level }
func (a *EchoAdapter) SetLevel(level echo_log.Lvl) { a.level = level }

func (a *EchoAdapter) Print(i ...any)                 { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoAdapter) Printf(format string, v ...any) { a.logger.Info(fmt.Sprintf(format, v...)) }
func (a *EchoAdapter) Printj(j echo_log.JSON)         { a.logger.Info("echo", Any("data", j)) }

func (a *EchoAdapter) Debug(i ...any)                 { a.logger.Debug(fmt.Sprint(i...)) }
func (a *EchoAdapter) Debugf(format string, v ...any) { a.logger.Debug(fmt.Sprintf(format, v...)) }
func (a *EchoAdapter) Debugj(j echo_log.JSON)         { a.logger.Debug("echo", Any("data", j)) }

func (a *EchoAdapter) Info(i ...any)                 { a.logger.Info(fmt.Sprint(i...)) }
func (a *EchoAdapter) Infof(format string, v ...any) { a.logger.Info(fmt.Sprintf(format, v...)) }
func (a *EchoAdapter) Infoj(j echo_log.JSON)         { a.logger.Info("echo", Any("data", j)) }

func (a *EchoAdapter) Warn(i ...any)                 { a.logger.Warn(fmt.Sprint(i...)) }
func (a *EchoAdapter) Warnf(format string, v ...any) { a.logger.Warn(fmt.Sprintf(format, v...)) }
func (a *EchoAdapter) Warnj(j echo_log.JSON)         { a.logger.Warn("echo", Any("data", j)) }

func (a *EchoAdapter) Error(i ...any)                 { a.logger.Error(fmt.Sprint(i...)) }
func (a *EchoAdapter) Errorf(format string, v ...any) { a.logger.Error(fmt.Sprintf(format, v...)) }
func (a *EchoAdapter) Errorj(j echo_log.JSON)         { a.logger.Error("echo", Any("data", j)) }

// Fatal and Panic log at error level and then panic instead of exiting.
func (a *EchoAdapter) Fatal(i ...any) { a.panicMsg(fmt.Sprint(i...)) }
func (a *EchoAdapter) Fatalf(format string, v ...any) {
	a.panicMsg(fmt.Sprintf(format, v...))
}
func (a *EchoAdapter) Fatalj(j echo_log.JSON) { a.panicMsg(fmt.Sprintf("%v", j)) }
func (a *EchoAdapter) Panic(i ...any)         { a.panicMsg(fmt.Sprint(i...)) }
func (a *EchoAdapter) Panicf(format string, v ...any) {
	a.panicMsg(fmt.Sprintf(format, v...))
}
func (a *EchoAdapter) Panicj(j echo_log.JSON) { a.panicMsg(fmt.Sprintf("%v", j)) }

func (a *EchoAdapter) panicMsg(msg string) {
	a.logger.Error(msg)
	panic(msg)
}
