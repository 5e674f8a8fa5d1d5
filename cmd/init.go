// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Record a synthetic baseline row in an empty ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}

			if err := eng.Init(ctx); err != nil {
				return err
			}

			fmt.Println("baseline recorded")
			return nil
		},
	}
}
