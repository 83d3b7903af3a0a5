// CLAUDE:SUMMARY Entry point for feedsync: cobra CLI over the feed client, chi JSON API (serve) and MCP server on stdio or QUIC.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/feedsync/config"
)

var (
	cfgFile   string
	sessionID string
	logLevel  string
	location  string
)

var rootCmd = &cobra.Command{
	Use:   "feedsync",
	Short: "Headless sync and navigation client for a serialized fiction feed",
	Long: `feedsync fetches the feed's config, episodes and stats documents,
keeps them in a two-tier cache backed by SQLite, enforces the session access
gate and tracks the current page. It can be driven from the command line,
through a JSON API (serve) or as an MCP server on stdio (mcp).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "session id (default: $FEEDSYNC_STORE__SESSION_ID or a new one)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&location, "location", "/", "initial location, e.g. '/?ep=3#episoden'")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration, applying flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if sessionID != "" {
		cfg.Store.SessionID = sessionID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger installs the JSON handler on stderr so stdout stays free for
// command output and the MCP stdio stream.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
