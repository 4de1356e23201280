// Command getahead is the entry point for the get-ahead interview service.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poirierunited/get-ahead-ai/internal/config"
)

// errRejected is returned by the gate command when the transcript fails the
// quality gate. It maps to exit status 2.
var errRejected = errors.New("transcript rejected")

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if errors.Is(err, errRejected) {
			return 2
		}
		fmt.Fprintf(os.Stderr, "getahead: %v\n", err)
		return 1
	}
	return 0
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "getahead",
		Short:         "Voice mock-interview service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadEnv(g.envFiles...)
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config; missing files are skipped")

	root.AddCommand(serveCmd(g), migrateCmd(g), seedCmd(g), gateCmd(g))
	return root
}

// loadConfig reads and validates the config file.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, explainMissing(g.configPath, err)
	}
	return cfg, nil
}

// explainMissing points at the example file when the config does not exist.
func explainMissing(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return err
}
