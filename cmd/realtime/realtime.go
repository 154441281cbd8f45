package realtime

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/internal/app"
	"github.com/tphakala/sensorflow/internal/conf"
)

// Command creates a new command for live classification.
func Command(ctx *app.Context) *cobra.Command {
	var (
		device    string
		synthetic int
	)

	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Classify live sensor data",
		Long:  "Capture from a soundcard, or from synthetic generators, until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := ctx.Settings
			switch {
			case synthetic > 0:
				s.Sensor.Type = conf.SensorSynthetic
				s.Sensor.Count = synthetic
			case s.Sensor.Type == conf.SensorWAV:
				s.Sensor.Type = conf.SensorMicrophone
			}
			if device != "" {
				s.Sensor.Type = conf.SensorMicrophone
				s.Sensor.Device = device
			}
			if err := conf.ValidateSettings(s); err != nil {
				return err
			}
			return app.Execute(cmd.Context(), ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "Capture device name or substring")
	cmd.Flags().IntVar(&synthetic, "synthetic", 0, "Run N synthetic sensors instead of a soundcard")
	return cmd
}
