package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"course-credentials/internal/store"
)

func lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <reference>",
		Short: "Print the certificate identifier issued for a CRM reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := commonRun(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			st, err := store.Open(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.Lookup(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no certificate issued for %q", args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(id)
		},
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the identifier history table if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := commonRun(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			// Open applies the embedded migrations.
			st, err := store.Open(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			e.log.Info().Str("driver", e.cfg.StoreDriver).Msg("migrations applied")
			return st.Close()
		},
	}
}
