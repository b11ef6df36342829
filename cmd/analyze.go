package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mhdmirzan/pose-estimation/internal/client"
	"github.com/mhdmirzan/pose-estimation/internal/media"
	"github.com/mhdmirzan/pose-estimation/internal/session"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type AnalyzeOptions struct {
	Kind      string
	File      string
	Sample    string
	OutputDir string
	Deadline  time.Duration
}

var analyzeOpts AnalyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Send an image or video to the server and save the pose overlay",
	Example: `  pose analyze --kind image --file me.jpg
  pose analyze --kind video --sample walk.mp4 -o out/`,
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := validateAnalyzeOptions(analyzeOpts)
		if err != nil {
			utils.Die("Invalid arguments", err, nil)
		}
		runAnalyze(cmd, kind, analyzeOpts)
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Kind, "kind", "k", "image", "Media kind: image or video")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.File, "file", "f", "", "Local file to upload")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.Sample, "sample", "s", "", "Server sample to process instead of uploading")
	analyzeCmd.Flags().StringVarP(&analyzeOpts.OutputDir, "output", "o", ".", "Directory for the annotated result")
	analyzeCmd.Flags().DurationVar(&analyzeOpts.Deadline, "deadline", session.DefaultDeadline, "Give up waiting for the server after this long")
	rootCmd.AddCommand(analyzeCmd)
}

func validateAnalyzeOptions(opts AnalyzeOptions) (media.Kind, error) {
	kind, err := media.ParseKind(opts.Kind)
	if err != nil {
		return "", err
	}
	if (opts.File == "") == (opts.Sample == "") {
		return "", errors.New("exactly one of --file or --sample is required")
	}
	if opts.Deadline <= 0 {
		return "", fmt.Errorf("--deadline must be positive, got %s", opts.Deadline)
	}
	return kind, nil
}

func runAnalyze(cmd *cobra.Command, kind media.Kind, opts AnalyzeOptions) {
	ctx := cmd.Context()

	c := client.NewClient(client.Config{BaseURL: serverURL, Timeout: 2 * opts.Deadline})
	if !c.IsAvailable(ctx) {
		utils.Die("Pose server is not reachable", fmt.Errorf("no response from %s/health", serverURL), nil)
	}

	o := session.New(c, session.WithKind(kind), session.WithDeadline(opts.Deadline))
	defer o.Close()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			utils.Die("Failed to read input file", err, nil)
		}
		err = o.SubmitUploadedFile(session.UploadedFile{Name: filepath.Base(opts.File), Data: data}, kind)
		if err != nil {
			utils.Die("File rejected", err, nil)
		}
	} else if err := o.SubmitSample(opts.Sample, kind); err != nil {
		utils.Die("Sample rejected", err, nil)
	}

	fmt.Fprintf(os.Stderr, "📤 Submitted %s %s\n", kind, o.View().Source)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("🏃 Estimating pose"),
		progressbar.OptionSetWriter(os.Stderr), // Write spinner to Stderr
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	done := o.Done()
wait:
	for {
		select {
		case <-done:
			break wait
		case <-ctx.Done():
			o.Reset()
			bar.Finish()
			utils.Die("Interrupted", ctx.Err(), nil)
		case <-ticker.C:
			bar.Add(1)
		}
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	view := o.View()
	if view.ErrorMessage != "" {
		utils.Die(view.ErrorMessage, nil, nil)
	}

	path, err := writeResult(opts.OutputDir, view.Result)
	if err != nil {
		utils.Die("Failed to save result", err, nil)
	}
	fmt.Fprintf(os.Stderr, "✅ Saved %s (%s, %d bytes)\n", path, view.Result.ContentType, len(view.Result.Data))
}

// writeResult stores the annotated media under its kind's result filename.
func writeResult(dir string, result session.Reference) (string, error) {
	if result.Empty() || len(result.Data) == 0 {
		return "", errors.New("server returned an empty result")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, result.Filename)
	if err := os.WriteFile(path, result.Data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
