package benchmark

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/internal/app"
	"github.com/tphakala/sensorflow/internal/conf"
	"github.com/tphakala/sensorflow/internal/logger"
)

// Command measures classifier latency and end to end pipeline throughput.
func Command(ctx *app.Context) *cobra.Command {
	var (
		iterations int
		packets    int
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark inference and pipeline throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			if iterations < 1 || packets < 1 {
				return fmt.Errorf("iterations and packets must be positive")
			}
			out := cmd.OutOrStdout()
			if err := runInferenceBenchmark(ctx, out, iterations); err != nil {
				return fmt.Errorf("inference benchmark failed: %w", err)
			}
			for _, mode := range []string{conf.ModeInline, conf.ModeDeferred} {
				if err := runPipelineBenchmark(cmd.Context(), ctx, out, mode, packets); err != nil {
					return fmt.Errorf("%s pipeline benchmark failed: %w", mode, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&iterations, "iterations", "n", 1000, "Model invocations to time")
	cmd.Flags().IntVarP(&packets, "packets", "p", 2000, "Synthetic packets per pipeline run")
	return cmd
}

func runInferenceBenchmark(ctx *app.Context, out io.Writer, iterations int) error {
	model, _, err := app.LoadModel(ctx.Settings, ctx.Log("benchmark"))
	if err != nil {
		return err
	}
	defer model.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	in := make([]float32, model.InputSize())
	for i := range in {
		in[i] = rng.Float32()*2 - 1
	}
	scores := make([]float32, model.OutputSize())

	timings := make([]time.Duration, iterations)
	for i := range iterations {
		start := time.Now()
		if err := model.Run(in, scores); err != nil {
			return err
		}
		timings[i] = time.Since(start)
	}
	slices.Sort(timings)

	var total time.Duration
	for _, d := range timings {
		total += d
	}
	avg := total / time.Duration(iterations)
	p95 := timings[(iterations*95)/100]
	if iterations < 20 {
		p95 = timings[iterations-1]
	}

	_, _ = fmt.Fprintf(out, "Inference (%s, %d inputs, %d classes)\n", ctx.Settings.Inference.Backend, model.InputSize(), model.OutputSize())
	_, _ = fmt.Fprintf(out, "  avg %-12s p95 %-12s %.1f inferences/sec\n\n", avg, p95, float64(time.Second)/float64(avg))
	return nil
}

func runPipelineBenchmark(parent context.Context, ctx *app.Context, out io.Writer, mode string, packets int) error {
	s := *ctx.Settings
	s.Pipeline.Mode = mode
	s.Sensor.Type = conf.SensorSynthetic
	s.Sensor.Count = 1
	s.Sensor.Synthetic.Packets = packets
	s.Sensor.Synthetic.Interval = 0
	s.Output.LogResults = false
	s.Telemetry.Enabled = false
	s.MQTT.Enabled = false
	s.Datastore.Enabled = false
	if err := conf.ValidateSettings(&s); err != nil {
		return err
	}

	p, err := app.New(&s, ctx.Log("benchmark"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			ctx.Log("benchmark").Warn("close failed", logger.Error(cerr))
		}
	}()

	start := time.Now()
	if err := p.Run(parent); err != nil {
		return err
	}
	elapsed := time.Since(start)

	samples := packets * s.Sensor.FrameSize * s.Sensor.FramesPerPacket
	var classified uint64
	for _, st := range p.Stages() {
		if st.Name == app.StageClassify {
			classified = st.Processed
		}
	}
	_, _ = fmt.Fprintf(out, "Pipeline (%s)\n", mode)
	_, _ = fmt.Fprintf(out, "  %d samples in %s: %.0f samples/sec, %d items classified, %d stalls\n\n",
		samples, elapsed.Round(time.Millisecond), float64(samples)/elapsed.Seconds(), classified, p.Stalls())
	return nil
}
