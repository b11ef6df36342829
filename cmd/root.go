package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mhdmirzan/pose-estimation/internal/store"
	"github.com/spf13/cobra"
)

const (
	// dbAnnotation marks how a subcommand uses the run ledger.
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the global database connection shared by subcommands. It is nil
	// when the command runs without a ledger.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// serverURL is where client commands send requests
	serverURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "pose",
	Short:   "Human pose estimation for images and videos",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine, the environment may already be set.
		_ = godotenv.Load()

		mode := cmd.Annotations[dbAnnotation]
		if mode == "" {
			return nil
		}

		dsn, explicit := resolveDSN()
		if mode == dbOptional && !explicit {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		s, err := store.New(cmd.Context(), dsn)
		if err != nil {
			if mode == dbOptional {
				fmt.Fprintf(os.Stderr, "⚠️  Run ledger unavailable, continuing without it: %v\n", err)
				return nil
			}
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		DB = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// resolveDSN returns the connection string and whether the user configured
// one rather than falling back to the local default.
func resolveDSN() (string, bool) {
	if dbURL != "" {
		return dbURL, true
	}
	// If no flag was provided, try to build the connection string from the environment
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name), true
	}
	return "postgres://localhost:5432/pose", false
}

func defaultServerURL() string {
	if v := os.Getenv("POSE_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8000"
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: POSTGRES_* env, then postgres://localhost:5432/pose)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "Pose server base URL for client commands (env POSE_SERVER)")
}
