package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/mhdmirzan/pose-estimation/internal/client"
	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
	"github.com/spf13/cobra"
)

var (
	samplesKind  string
	samplesFetch string
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "List the samples a server offers",
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := media.ParseKind(samplesKind)
		if err != nil {
			utils.Die("Invalid --kind", err, nil)
		}
		runSamples(cmd, kind)
	},
}

func init() {
	samplesCmd.Flags().StringVarP(&samplesKind, "kind", "k", "image", "Media kind: image or video")
	samplesCmd.Flags().StringVar(&samplesFetch, "fetch", "", "Download the named sample's original into the current directory")
	rootCmd.AddCommand(samplesCmd)
}

func runSamples(cmd *cobra.Command, kind media.Kind) {
	ctx := cmd.Context()
	c := client.NewClient(client.Config{BaseURL: serverURL})
	profile := media.Classify(kind)

	if samplesFetch != "" {
		if err := media.ValidateSampleName(samplesFetch); err != nil {
			utils.Die("Invalid sample name", err, nil)
		}
		data, err := c.Fetch(ctx, profile.SamplePreviewPath(samplesFetch))
		if err != nil {
			utils.Die("Failed to download sample", err, nil)
		}
		if err := os.WriteFile(filepath.Base(samplesFetch), data, 0644); err != nil {
			utils.Die("Failed to save sample", err, nil)
		}
		fmt.Fprintf(os.Stderr, "✅ Saved %s (%d bytes)\n", samplesFetch, len(data))
		return
	}

	files, err := c.ListSamples(ctx, kind)
	if err != nil {
		utils.Die("Failed to list samples", err, nil)
	}

	if len(files) == 0 {
		fmt.Printf("No %s samples available.\n", kind)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tPREVIEW\tPROCESS")
	fmt.Fprintln(w, "----\t-------\t-------")

	for _, name := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, profile.SamplePreviewPath(name), profile.SampleEndpoint(name))
	}
	w.Flush()
}
