package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mhdmirzan/pose-estimation/internal/config"
	"github.com/mhdmirzan/pose-estimation/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetRuns  bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset server state (run ledger, leftover uploads and results)",
	Long:        "Clears stored state. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		targets := resolveResetTargets(resetRuns, resetFiles, DB != nil)
		reader := bufio.NewReader(os.Stdin)

		if targets.skipRuns {
			fmt.Println("⚠️  No run ledger configured, skipping")
		}
		if targets.runs {
			if DB == nil {
				utils.Die("Cannot reset the run ledger", fmt.Errorf("no database configured (use --db or POSTGRES_HOST)"), nil)
			}
			if confirm(reader, "⚠️  Are you sure you want to DROP the run ledger?") {
				fmt.Println("🗑️  Clearing Run Ledger...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if targets.files {
			cfg := config.LoadServer()
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete %s and %s?", cfg.UploadDir, cfg.ResultsDir)) {
				fmt.Println("🗑️  Clearing Uploads and Results...")
				removeDir(cfg.UploadDir)
				removeDir(cfg.ResultsDir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetRuns, "runs", false, "Clear the PostgreSQL run ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear leftover uploads and results")
	rootCmd.AddCommand(resetCmd)
}

type resetTargets struct {
	runs     bool
	files    bool
	skipRuns bool
}

// resolveResetTargets applies the no-flags default of clearing everything.
// Only an explicit --runs requires a database; the default skips the ledger
// when none is configured.
func resolveResetTargets(runs, files, haveDB bool) resetTargets {
	if runs || files {
		return resetTargets{runs: runs, files: files}
	}
	if !haveDB {
		return resetTargets{files: true, skipRuns: true}
	}
	return resetTargets{runs: true, files: true}
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
