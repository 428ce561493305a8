package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"praxis/internal/config"
	"praxis/internal/core"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	out        io.Writer
	configPath string
	jsonOutput bool
	extra      []core.Option
}

func newRootCommand(out io.Writer, opts ...core.Option) *cobra.Command {
	a := &app{out: out, extra: opts}
	root := &cobra.Command{
		Use:           "praxisdb",
		Short:         "Offline persistence engine for the praxis lab console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (YAML)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newStatusCommand(a),
		newListCommand(a),
		newCreateCommand(a),
		newSeedCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newSaveCommand(a),
		newResetCommand(a),
		newServeCommand(a),
	)
	return root
}

// run loads configuration, assembles the service and closes it after fn,
// which flushes any snapshot writes fn scheduled.
func (a *app) run(cmd *cobra.Command, fn func(*core.Service) error) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	svc, err := core.Open(cmd.Context(), cfg, a.extra...)
	if err != nil {
		return err
	}
	return errors.Join(fn(svc), svc.Close())
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}
