// Command batchpredict compiles, draws and runs the batch prediction pipeline.
//
// With no subcommand it compiles the pipeline definition to prediction.json.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/batchpredict/compiler"
	"github.com/kbukum/batchpredict/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	sets       []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var output string

	rootCmd := &cobra.Command{
		Use:   version.Program,
		Short: "Batch prediction pipeline",
		Long: `batchpredict builds the batch prediction pipeline: ingest rows from the
warehouse, export them for prediction and validation, compare serving
statistics with training statistics, resolve the champion model, score the
instances and load the predictions back into the warehouse.

Run without a subcommand to compile the pipeline definition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return compileDefinition(cmd, opts, output, "")
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: search ./cmd/batchpredict, ./config and .)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", ".env file loaded before reading the environment")
	rootCmd.PersistentFlags().StringArrayVar(&opts.sets, "set", nil, "pipeline parameter override as key=value (repeatable)")
	rootCmd.Flags().StringVarP(&output, "output", "o", compiler.DefaultOutput, "definition file to write (.json or .yaml)")

	rootCmd.AddCommand(
		compileCmd(opts),
		graphCmd(opts),
		runCmd(opts),
		historyCmd(opts),
		versionCmd(),
	)
	return rootCmd
}
