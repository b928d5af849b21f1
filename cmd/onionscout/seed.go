package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/onionscout/internal/database"
)

// NewSeedCmd creates the seed command.
func NewSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Add the built-in directories and search engines",
		Long: `Seed adds well-known onion directories and search engines to the
catalog. The discovery cycle starts from them. Links already in the
catalog are left untouched, so seeding twice adds nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			a, err := newApp(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			added, err := a.db.Seed(ctx)
			if err != nil {
				return fmt.Errorf("failed to seed catalog: %w", err)
			}
			fmt.Fprintf(a.out, "Seeded %d of %d links into %s\n", added, database.SeedCount(), a.db.Path())
			return nil
		},
	}
}
