package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/remedy/internal/incident/filestore"
	"github.com/linnemanlabs/remedy/internal/incident/pgstore"
	"github.com/linnemanlabs/remedy/internal/postgres"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load an incident file into the PostgreSQL registry",
	Long: "Upserts every incident from --file into the incidents table at\n" +
		"--database-url, keyed by transaction id.",
	Args: cobra.NoArgs,
	RunE: runImport,
}

func runImport(cmd *cobra.Command, _ []string) error {
	if rootFlags.file == "" || rootFlags.databaseURL == "" {
		return errors.New("import needs both --file and --database-url")
	}

	src, err := filestore.Load(rootFlags.file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := postgres.NewPool(ctx, rootFlags.databaseURL)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := pgstore.New(ctx, pool)
	if err != nil {
		return fmt.Errorf("pgstore init: %w", err)
	}
	n, err := store.Import(ctx, src.Incidents())
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d incidents\n", n)
	return nil
}
