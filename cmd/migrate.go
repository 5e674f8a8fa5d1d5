// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply outstanding migrations up to the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}

			applied, err := eng.Migrate(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("applied %d migration(s)\n", applied)
			return nil
		},
	}
}
