package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newOutboxCommand(b Backends) *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the transactional outbox",
	}

	outboxCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pending and published event counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inspector, release, err := b.Outbox(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			stats, err := inspector.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read outbox stats: %w", err)
			}

			cmd.Printf("Pending:   %d\n", stats.Pending)
			cmd.Printf("Published: %d\n", stats.Published)
			if stats.OldestPending != nil {
				age := time.Since(*stats.OldestPending).Truncate(time.Second)
				cmd.Printf("Oldest pending: %s (%s ago)\n", stats.OldestPending.UTC().Format(time.RFC3339), age)
				cmd.Printf("Max attempts:   %d\n", stats.MaxAttempts)
			}
			return nil
		},
	})

	return outboxCmd
}
