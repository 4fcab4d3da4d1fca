package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"datanerd/internal/catalog"
)

var okBanner = lipgloss.NewStyle().
	Foreground(lipgloss.Color("10")).
	Bold(true)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the semantic model without starting a server",
	Long: `Loads and validates the catalog: schema shape, reference closure,
formula safety, and connection fields. Exit status reflects the result.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		cat := store.Current()

		status := fmt.Sprintf("%s: %d metrics, %d dimensions, %d datasets, backend %s",
			cfg.Catalog.Path, len(cat.Metrics), len(cat.Dimensions), len(cat.Datasets),
			cat.Connection.Backend)
		if flagNoColor {
			fmt.Fprintln(cmd.OutOrStdout(), "ok: "+status)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), okBanner.Render("ok")+" "+status)
		}
		return nil
	},
}
