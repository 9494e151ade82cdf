// Command entgen generates entityp definitions from sqlp struct tags.
//
//	entgen generate --config entgen.yaml
package main

import (
	"fmt"
	"os"

	"github.com/greghart/sqlsplice/internal/entgen"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	config  string
	pkg     string
	output  string
	types   []string
	verbose bool
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "entgen",
		Short:         "Generate entity definitions for sqlsplice",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newGenerateCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the entity file for a package",
		Long: `Generate loads a package, reads the sqlp tags of the configured struct types,
and writes an entityp.Definition with a static column mapper for each of them.

Flags override the config file; --type restricts generation to the given types.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "path to the YAML config")
	cmd.Flags().StringVarP(&opts.pkg, "package", "p", "", "package pattern, overriding the config")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "generated file name, overriding the config")
	cmd.Flags().StringSliceVarP(&opts.types, "type", "t", nil, "types to generate (repeatable)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every entity")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts *generateOptions) error {
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().
		Logger()

	cfg := &entgen.Config{Dir: "."}
	if opts.config != "" {
		var err error
		if cfg, err = entgen.LoadConfig(opts.config); err != nil {
			return err
		}
	}
	if opts.pkg != "" {
		// Flag patterns are relative to the working directory.
		cfg.Package, cfg.Dir = opts.pkg, "."
	}
	if opts.output != "" {
		cfg.Output = opts.output
	}
	cfg.Only(opts.types...)

	out, err := entgen.Generate(cfg, logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
