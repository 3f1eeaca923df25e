// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keypredist.
//
// go-keypredist is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the kps command line tool. Commands operate on the
// state documents in the data directory, so a pool generated by one
// invocation is used by the next.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
)

// Execute runs the root command
func Execute() error {
	root, cfg := newRootCommand()
	if err := root.Execute(); err != nil {
		_ = NewPrinter(cfg.OutputFormat, root.ErrOrStderr()).PrintError(err)
		return err
	}
	return nil
}

// NewRootCommand builds the kps command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *Config) {
	cfg := NewConfig()
	v := viper.New()

	root := &cobra.Command{
		Use:   "kps",
		Short: "Key predistribution system",
		Long: `kps predistributes symmetric keys to users with one of two schemes:

  pool:    each user draws a ring of keys from a shared pool; two users
           derive a secret from the keys their rings have in common.
  matrix:  each user receives a secret vector and publishes its image
           under a symmetric matrix; any two users compute the same value.

State is kept in the data directory between invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.load(v)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "config file (yaml)")
	flags.String("data-dir", cfg.DataDir, "directory for state documents")
	flags.String("storage", cfg.Storage, "state storage (file, memory)")
	flags.StringP("output", "o", cfg.OutputFormat, "output format (text, json, table)")
	flags.BoolP("verbose", "v", false, "verbose output")

	for _, name := range []string{"data-dir", "storage", "output", "verbose"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	v.SetEnvPrefix("KPS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newVersionCmd(cfg))
	root.AddCommand(newPoolCmd(cfg))
	root.AddCommand(newMatrixCmd(cfg))
	root.AddCommand(newDemoCmd(cfg))
	return root, cfg
}

// session opens the service for one command and hands it a printer.
func session(cfg *Config, cmd *cobra.Command, fn func(*keyserver.Service, *Printer) error) error {
	svc, err := cfg.OpenService(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] storage=%s data-dir=%s\n", cfg.Storage, cfg.DataDir)
	}
	return fn(svc, NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()))
}

func saveState(svc *keyserver.Service) error {
	if _, err := svc.SaveState(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
