package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

const defaultReplayLimit = 100

func newDLQCommand(b Backends) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered change events",
	}

	dlqCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show how many messages wait in the dead-letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dlq, release, err := b.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			depth, err := dlq.Depth(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to inspect dead-letter queue: %w", err)
			}
			cmd.Printf("%s: %d messages\n", dlq.Name(), depth)
			return nil
		},
	})

	var limit int
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Move dead letters back to the main queue",
		Long:  `Republishes dead-lettered events to the main queue. Each message leaves the dead-letter queue only after the broker confirmed its republish.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be at least 1")
			}

			dlq, release, err := b.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			moved, err := dlq.Replay(cmd.Context(), limit)
			cmd.Printf("Replayed %d messages from %s\n", moved, dlq.Name())
			if err != nil {
				return fmt.Errorf("replay stopped: %w", err)
			}
			return nil
		},
	}
	replayCmd.Flags().IntVarP(&limit, "limit", "n", defaultReplayLimit, "Maximum number of messages to replay")
	dlqCmd.AddCommand(replayCmd)

	return dlqCmd
}
