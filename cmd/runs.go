package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/utils"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List recent prediction runs recorded by the server",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runRuns(cmd.Context())
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(ctx context.Context) {
	runs, err := DB.ListRuns(ctx, runsLimit)
	if err != nil {
		utils.Die("Failed to list runs", err, nil)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSOURCE\tNAME\tSTATUS\tFRAMES\tDURATION\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t----\t------\t------\t--------\t-------")

	for _, r := range runs {
		frames := "-"
		if r.Frames > 0 {
			frames = fmt.Sprint(r.Frames)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID.String()[:8], r.Kind, r.Source, r.Name, r.Status, frames,
			r.Duration.Round(time.Millisecond), r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
