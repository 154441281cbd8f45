package file

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/internal/app"
	"github.com/tphakala/sensorflow/internal/conf"
)

// Command creates a new file command for classifying a single WAV file.
func Command(ctx *app.Context) *cobra.Command {
	var (
		realtime bool
		labels   string
	)

	cmd := &cobra.Command{
		Use:   "file [input.wav]",
		Short: "Classify a WAV file",
		Long:  `Replay a PCM WAV file through the pipeline and report the classifications.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := ctx.Settings
			s.Sensor.Type = conf.SensorWAV
			s.Sensor.Path = args[0]
			s.Sensor.Count = 1
			if cmd.Flags().Changed("realtime") {
				s.Sensor.Realtime = realtime
			}
			if labels != "" {
				s.Inference.LabelPath = labels
			}
			if err := conf.ValidateSettings(s); err != nil {
				return err
			}
			return app.Execute(cmd.Context(), ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace playback to the file's sample rate")
	cmd.Flags().StringVar(&labels, "labels", "", "Label file, one label per line")
	return cmd
}
