package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"product-sync/internal/mirror"

	"github.com/spf13/cobra"
)

func newMirrorCommand(b Backends) *cobra.Command {
	mirrorCmd := &cobra.Command{
		Use:   "mirror",
		Short: "Read the product mirror",
	}

	mirrorCmd.AddCommand(&cobra.Command{
		Use:   "show [product-id]",
		Short: "Print the mirrored document of a product as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 1 {
				return fmt.Errorf("invalid product id %q", args[0])
			}

			reader, release, err := b.Mirror(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			doc, err := reader.FindByProductID(cmd.Context(), id)
			if errors.Is(err, mirror.ErrDocumentNotFound) {
				return fmt.Errorf("product %d is not mirrored", id)
			}
			if err != nil {
				return fmt.Errorf("failed to read mirror: %w", err)
			}

			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	return mirrorCmd
}
