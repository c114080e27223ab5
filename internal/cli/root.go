package cli

import (
	"context"

	"product-sync/internal/mirror"
	"product-sync/internal/products/repository"

	"github.com/spf13/cobra"
)

type OutboxInspector interface {
	Stats(ctx context.Context) (repository.OutboxStats, error)
}

type DeadLetters interface {
	Name() string
	Depth(ctx context.Context) (int, error)
	Replay(ctx context.Context, limit int) (int, error)
}

type DocumentReader interface {
	FindByProductID(ctx context.Context, productID int64) (mirror.ProductDocument, error)
}

// Backends opens the connections a command needs. Each opener returns a
// release func that the command calls when it is done.
type Backends struct {
	Migrate     func(ctx context.Context) error
	Outbox      func(ctx context.Context) (OutboxInspector, func(), error)
	DeadLetters func(ctx context.Context) (DeadLetters, func(), error)
	Mirror      func(ctx context.Context) (DocumentReader, func(), error)
}

func NewRootCommand(b Backends) *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the product sync pipeline",
		Long:          `Inspect and repair the outbox, the dead-letter queue and the product mirror.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCommand(b),
		newOutboxCommand(b),
		newDLQCommand(b),
		newMirrorCommand(b),
	)
	return root
}

func newMigrateCommand(b Backends) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending relational migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := b.Migrate(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
			return nil
		},
	}
}
