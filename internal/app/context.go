package app

import (
	"context"
	"fmt"
	"io"

	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/logger"
)

// Context carries what every command needs once flags and config are
// resolved.
type Context struct {
	Settings   *conf.Settings
	Logger     *logger.CentralLogger
	Version    string
	ConfigUsed string
}

// Log returns a module logger, or a no-op logger before setup.
func (c *Context) Log(module string) logger.Logger {
	if c.Logger == nil {
		return logger.NewNopLogger()
	}
	return c.Logger.Module(module)
}

// Execute builds a pipeline from c.Settings, runs it until it finishes or
// ctx ends and writes a per-stage summary to out.
func Execute(ctx context.Context, c *Context, out io.Writer) error {
	flush, err := InitSentry(c.Settings.Sentry, c.Version)
	if err != nil {
		return err
	}
	defer flush()

	p, err := New(c.Settings, c.Log("pipeline"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			c.Log("pipeline").Warn("close failed", logger.Error(cerr))
		}
	}()

	runErr := p.Run(ctx)
	PrintSummary(out, p)
	return runErr
}

// PrintSummary writes one line per stage.
func PrintSummary(out io.Writer, p *Pipeline) {
	_, _ = fmt.Fprintf(out, "run %s\n", p.RunID())
	_, _ = fmt.Fprintf(out, "%-10s %10s %9s %7s %9s %7s\n", "stage", "processed", "failures", "stalls", "dropped", "fault")
	for _, st := range p.Stages() {
		fault := "-"
		if st.Fault != "" {
			fault = "yes"
		}
		_, _ = fmt.Fprintf(out, "%-10s %10d %9d %7d %9d %7s\n",
			st.Name, st.Processed, st.Failures, st.Stalls, st.DroppedElements, fault)
	}
	if rec := p.Results(); len(rec) > 0 {
		if top, ok := rec[0].Top(); ok {
			_, _ = fmt.Fprintf(out, "latest: %s (%.2f)\n", top.Label, top.Confidence)
		}
	}
}
