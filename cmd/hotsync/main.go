package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hotsync",
	Short: "hotsync - dev-server update stream reconciler",
	Long: `hotsync subscribes to resources on a dev server's update stream, merges
the partial chunk updates it receives and applies them in batches.

Run "hotsync watch" to follow a server, or use the offline helpers to inspect
merge results, resource keys and issue ordering.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Encoding = "console"
		config.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// watchCmd follows the server's update stream
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to the manifest's resources and apply updates as they arrive",
	Long: `Connects to server.url, subscribes to every resource listed in the
manifest and applies partial updates in batches. Batches are flushed on the
flush interval, after the quiet period, or when an issue report comes back
clean. Critical issues hold timed flushes until they clear.

The manifest is reloaded on change when manifest.watch is set.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

// mergeCmd merges two chunk list updates offline
var mergeCmd = &cobra.Command{
	Use:   "merge [earlier.json] [later.json]",
	Short: "Merge two ChunkListUpdate documents and print the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runMerge,
}

// keyCmd prints the canonical key of a resource
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the canonical key for a resource",
	Long: `Prints the key used to match subscriptions. Headers given with --header
are included; --empty-headers encodes an empty header map, which is a
different resource from one with no headers at all.

Example:
  hotsync key --path /_next/static/chunks/app.js --header accept=text/javascript`,
	Args: cobra.NoArgs,
	RunE: runKey,
}

// issuesCmd sorts and renders an issue list
var issuesCmd = &cobra.Command{
	Use:   "issues [issues.json]",
	Short: "Sort an issue list by severity and category and render it",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssues,
}

var (
	keyPath         string
	keyHeaders      []string
	keyEmptyHeaders bool
	issuesJSON      bool
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hotsync.yaml", "Config file")

	keyCmd.Flags().StringVar(&keyPath, "path", "", "Resource path (required)")
	keyCmd.Flags().StringArrayVar(&keyHeaders, "header", nil, "Header as name=value (repeatable)")
	keyCmd.Flags().BoolVar(&keyEmptyHeaders, "empty-headers", false, "Use an empty header map instead of none")
	_ = keyCmd.MarkFlagRequired("path")

	issuesCmd.Flags().BoolVar(&issuesJSON, "json", false, "Print the sorted list as JSON")

	// Add commands to root
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(issuesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
