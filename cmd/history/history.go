package history

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/sensorflow/internal/app"
	"github.com/tphakala/sensorflow/internal/sinks"
)

// Command prints detections persisted by the datastore.
func Command(ctx *app.Context) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored detections",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sinks.OpenStore(ctx.Settings.Datastore.Path, sinks.Decoder{}, ctx.Log("datastore"))
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if runID != "" {
				counts, err := store.TopLabels(runID, limit)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, "LABEL\tCOUNT")
				for _, c := range counts {
					_, _ = fmt.Fprintf(w, "%s\t%d\n", c.Label, c.Count)
				}
				return w.Flush()
			}

			rows, err := store.Recent(limit)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(w, "TIME\tRUN\tSEQ\tRANK\tLABEL\tCONFIDENCE")
			for _, d := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%.8s\t%d\t%d\t%s\t%.3f\n",
					d.Timestamp.Format("2006-01-02 15:04:05"), d.RunID, d.Sequence, d.Position, d.Label, d.Confidence)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rows to show")
	cmd.Flags().StringVar(&runID, "run", "", "Aggregate top labels of one run")
	return cmd
}
