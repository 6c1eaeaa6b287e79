package cmd

import (
	"fmt"

	"github.com/sgic-platform/sgic-audit/model"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the tables and install the write-once guards",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := open()
		if err != nil {
			return err
		}
		defer e.close()
		if err := model.AutoMigrate(e.db); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
