// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Drop every object from the configured schemas (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}

			if err := eng.Clean(ctx, nil); err != nil {
				return err
			}

			fmt.Println("schemas cleaned")
			return nil
		},
	}
}
