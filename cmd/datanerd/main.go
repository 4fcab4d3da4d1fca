// datanerd is a conversational analytics service over a YAML semantic
// catalog. It answers plain-language business questions by classifying
// intent, planning a safe query against the embedded warehouse, and
// narrating the result, exposed over the MCP tool protocol or REST.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"datanerd/internal/config"
	"datanerd/internal/driver"
	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

const version = "1.0.0"

// Exit codes.
const (
	exitOK          = 0
	exitCatalog     = 1
	exitUnreachable = 2
	exitLocked      = 3
	exitConfig      = 4
)

var (
	flagConfig  string
	flagCatalog string
	flagVerbose bool
	flagNoColor bool

	cfg *config.Config
)

var errorBanner = lipgloss.NewStyle().
	Foreground(lipgloss.Color("9")).
	Bold(true)

var rootCmd = &cobra.Command{
	Use:   "datanerd",
	Short: "Conversational analytics over a semantic catalog",
	Long: `datanerd serves a YAML semantic model (metrics, dimensions, canonical
datasets) as a conversational analyst: ask questions in plain language or
run metrics directly, over MCP stdio or HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		if flagCatalog != "" {
			cfg.Catalog.Path = flagCatalog
		}

		level := cfg.Logging.Level
		if flagVerbose {
			level = "debug"
		}
		// Logging always goes to stderr; serve shares stdout with the
		// stdio tool transport.
		if err := logging.Initialize(level, cfg.Logging.Format == "json", true); err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// failCode classifies a startup error into an exit code.
func failCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, driver.ErrLocked):
		return exitLocked
	case errors.Is(err, driver.ErrUnreachable):
		return exitUnreachable
	}
	return exitCatalog
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "datanerd.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "", "semantic model file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "print raw markdown without terminal styling")

	rootCmd.AddCommand(serveCmd, httpCmd, askCmd, queryCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		msg := errs.AsError(err).UserMessage()
		if flagNoColor {
			fmt.Fprintln(os.Stderr, msg)
		} else {
			fmt.Fprintln(os.Stderr, errorBanner.Render("error"))
			fmt.Fprintln(os.Stderr, msg)
		}
		logging.Sync()
		os.Exit(failCode(err))
	}
}
