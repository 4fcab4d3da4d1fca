package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask \"<question>\"",
	Short: "Ask the analyst one question",
	Long: `Runs the full pipeline for a single question and prints the
markdown answer. Each invocation is its own session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		question := strings.Join(args, " ")
		ans, err := a.analyst.Ask(cmd.Context(), question, "")
		if err != nil {
			return err
		}
		return printMarkdown(cmd, ans.Markdown)
	},
}

// printMarkdown renders through glamour unless --no-color asked for the
// raw text.
func printMarkdown(cmd *cobra.Command, md string) error {
	if flagNoColor {
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}
