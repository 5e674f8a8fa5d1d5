// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Remove failed ledger rows and restore the current-row invariant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}

			if err := eng.Repair(ctx); err != nil {
				return err
			}

			fmt.Println("repair complete")
			return nil
		},
	}
}
