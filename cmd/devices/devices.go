package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/internal/sensors"
)

// Command lists capture devices.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := sensors.ListDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devs) == 0 {
				_, _ = fmt.Fprintln(out, "No capture devices found")
				return nil
			}
			for _, d := range devs {
				_, _ = fmt.Fprintf(out, "%d: %s\n", d.Index, d.Name)
			}
			return nil
		},
	}
}
