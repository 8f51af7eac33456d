// Command machine-uml validates a YAML machine definition and prints it as a
// PlantUML state diagram.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	machine "github.com/stateforward/go-machine"
	"github.com/stateforward/go-machine/pkg/plantuml"
)

type options struct {
	output string
	check  bool
}

func newCommand() *cobra.Command {
	var opts options
	command := &cobra.Command{
		Use:   "machine-uml [definition.yaml]",
		Short: "render a machine definition as PlantUML",
		Long: "Loads a machine definition from a YAML file, or from stdin when the " +
			"file is omitted or \"-\", checks its structure and prints a PlantUML " +
			"state diagram.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}
	command.Flags().StringVarP(&opts.output, "output", "o", "", "write the diagram to this file instead of stdout")
	command.Flags().BoolVar(&opts.check, "check", false, "only validate the definition")
	return command
}

func run(cmd *cobra.Command, args []string, opts options) error {
	input := cmd.InOrStdin()
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "opening definition")
		}
		defer file.Close()
		input, name = file, args[0]
	}
	definition, err := machine.Load(input)
	if err != nil {
		return errors.Wrapf(err, "loading %s", name)
	}
	if err := machine.Validate(definition); err != nil {
		return errors.Wrapf(err, "validating %s", name)
	}
	if opts.check {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
		return err
	}
	var output io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return errors.Wrap(err, "creating output")
		}
		defer file.Close()
		output = file
	}
	return plantuml.Generate(output, definition)
}

func main() {
	command := newCommand()
	if err := command.Execute(); err != nil {
		command.PrintErrln("error:", err)
		os.Exit(1)
	}
}
