package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "voicedesk",
		Short:        "Telephone receptionist that books appointments",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("json", false, "Output in JSON format")
	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newReplayCommand(),
		newSlotsCommand(),
		newTokenCommand(),
	)
	return root
}

func jsonMode(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
