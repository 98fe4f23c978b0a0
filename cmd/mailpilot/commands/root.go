// Package commands implements the mailpilot CLI: inspecting threads and
// reviewing reply drafts straight against the daemon's database.
package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/roasbeef/mailpilot/internal/db"
	"github.com/roasbeef/mailpilot/internal/store"
	"github.com/spf13/cobra"
)

var (
	// dbPath is the path to the SQLite database.
	dbPath string

	// outputFormat controls output format (text, json).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "mailpilot",
	Short: "Mailpilot inbound email automation CLI",
	Long: `Mailpilot CLI inspects conversation threads and reviews the reply
drafts the daemon has composed: list what is pending, approve, reject or
edit drafts, and trace how a thread was handled.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: ~/.mailpilot/mailpilot.db)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json",
	)

	rootCmd.AddCommand(draftsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(threadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// openStorage opens the daemon database, applying any pending migrations.
// The caller owns the returned close function.
func openStorage() (*store.SQLStore, func(), error) {
	path := dbPath
	if path == "" {
		defaultPath, err := db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		path = defaultPath
	}

	quiet := slog.New(slog.DiscardHandler)

	dbStore, err := db.Open(path, quiet)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open database: %w",
			err)
	}

	return store.NewSQLStore(dbStore), func() {
		_ = dbStore.Close()
	}, nil
}

// outputJSON prints any value as indented JSON.
func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
