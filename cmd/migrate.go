package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the projects and field notes tables",
	Long:  "Creates the configured projects and field notes tables if they do not exist, then verifies them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}
		if err := st.VerifySchema(ctx); err != nil {
			return eris.Wrap(err, "migrate: verify")
		}

		zap.L().Info("migrations applied",
			zap.String("projects", cfg.Store.Tables.Projects),
			zap.String("field_notes", cfg.Store.Tables.FieldNotes),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
