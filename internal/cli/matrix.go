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

package cli

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

func newMatrixCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Symmetric matrix scheme over a prime field",
	}
	cmd.AddCommand(
		newMatrixInitCmd(cfg),
		newMatrixRegisterCmd(cfg),
		newMatrixShowCmd(cfg),
		newMatrixSharedCmd(cfg),
		newEncryptCmd(cfg, types.SchemeMatrix),
	)
	return cmd
}

func newMatrixInitCmd(cfg *Config) *cobra.Command {
	var primeFlag string
	var dimension int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new symmetric matrix, replacing any existing matrix and its users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prime, ok := new(big.Int).SetString(primeFlag, 10)
			if !ok {
				return fmt.Errorf("%w: prime %q is not a decimal integer", types.ErrInvalidParameters, primeFlag)
			}
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				if err := svc.InitMatrix(prime, dimension); err != nil {
					return err
				}
				if err := saveState(svc); err != nil {
					return err
				}
				return p.PrintSuccess(fmt.Sprintf("Generated %dx%d symmetric matrix over prime %s", dimension, dimension, prime))
			})
		},
	}
	cmd.Flags().StringVar(&primeFlag, "prime", matrix.DefaultPrime.String(), "field modulus (decimal)")
	cmd.Flags().IntVar(&dimension, "dimension", matrix.DefaultDimension, "matrix dimension")
	return cmd
}

func newMatrixRegisterCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register <user>...",
		Short: "Register users and issue their secret vectors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				users := make([]matrix.User, 0, len(args))
				for _, id := range args {
					u, err := svc.RegisterMatrixUser(id)
					if err != nil {
						return err
					}
					users = append(users, u)
				}
				if err := saveState(svc); err != nil {
					return err
				}
				return p.PrintMatrixUsers(users)
			})
		},
	}
}

func newMatrixShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the matrix parameters and public vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				prime, dim, err := svc.MatrixParameters()
				if err != nil {
					return err
				}
				users, err := svc.MatrixUsers()
				if err != nil {
					return err
				}
				return p.PrintMatrixSummary(prime, dim, users)
			})
		},
	}
}

func newMatrixSharedCmd(cfg *Config) *cobra.Command {
	var keySize int
	cmd := &cobra.Command{
		Use:   "shared <requester> <other>",
		Short: "Compute the shared value of two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				value, err := svc.SharedValue(args[0], args[1])
				if err != nil {
					return err
				}
				var key []byte
				if keySize > 0 {
					key, err = svc.MatrixKey(args[0], args[1], keySize)
					if err != nil {
						return err
					}
				}
				return p.PrintSharedValue(args[0], args[1], value, key)
			})
		},
	}
	cmd.Flags().IntVar(&keySize, "key-size", 0, "also derive a symmetric key of this many bytes")
	return cmd
}
