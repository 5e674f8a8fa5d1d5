// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func infoCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the joined status of every known and applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}

			entries, err := eng.Info(ctx)
			if err != nil {
				return err
			}

			if output == "yaml" {
				out, err := yaml.Marshal(entries)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			}

			rows := [][]string{{"Version", "State", "Description"}}
			for _, e := range entries {
				rows = append(rows, []string{e.Version.String(), string(e.State), e.Description})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}

	cmd.Flags().StringVar(&output, "output", "table", "Output format: table or yaml")
	return cmd
}
