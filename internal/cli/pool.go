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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

func newPoolCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Random key pool scheme",
	}
	cmd.AddCommand(
		newPoolInitCmd(cfg),
		newPoolRegisterCmd(cfg),
		newPoolShowCmd(cfg),
		newPoolRingsCmd(cfg),
		newPoolAssignmentCmd(cfg),
		newPoolOverlapCmd(cfg),
		newPoolDeriveCmd(cfg),
		newPoolEncryptCmd(cfg),
	)
	return cmd
}

func newPoolInitCmd(cfg *Config) *cobra.Command {
	var size, keysPerUser int
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new key pool, replacing any existing pool and its users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				if err := svc.InitPool(size, keysPerUser); err != nil {
					return err
				}
				if err := saveState(svc); err != nil {
					return err
				}
				return p.PrintSuccess(fmt.Sprintf("Generated key pool: %d keys, %d keys per user", size, keysPerUser))
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 100, "number of keys in the pool")
	cmd.Flags().IntVar(&keysPerUser, "keys-per-user", 10, "keys assigned to each user")
	return cmd
}

func newPoolRegisterCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register <user>...",
		Short: "Register users and draw their key rings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				users := make([]pool.User, 0, len(args))
				for _, id := range args {
					u, err := svc.RegisterPoolUser(id)
					if err != nil {
						return err
					}
					users = append(users, u)
				}
				if err := saveState(svc); err != nil {
					return err
				}
				return p.PrintPoolUsers(users)
			})
		},
	}
}

func newPoolShowCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the pool parameters and every user's key ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				poolCfg, err := svc.PoolConfig()
				if err != nil {
					return err
				}
				users, err := svc.PoolUsers()
				if err != nil {
					return err
				}
				return p.PrintPoolSummary(poolCfg, users)
			})
		},
	}
}

func newPoolRingsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rings [user]...",
		Short: "Show key rings with their key values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				rings, err := keyRings(svc, args...)
				if err != nil {
					return err
				}
				return p.PrintKeyRings(rings)
			})
		},
	}
}

func newPoolAssignmentCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "assignment",
		Short: "Show the user by key assignment matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				m, err := svc.AssignmentMatrix()
				if err != nil {
					return err
				}
				return p.PrintAssignment(m)
			})
		},
	}
}

func newPoolOverlapCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "overlap",
		Short: "Show the number of keys each pair of users shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				m, err := svc.OverlapMatrix()
				if err != nil {
					return err
				}
				return p.PrintOverlap(m)
			})
		},
	}
}

func newPoolDeriveCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <user> <user>",
		Short: "Derive the shared secret of two users",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				secret, ok, err := svc.DeriveSecret(args[0], args[1])
				if err != nil {
					return err
				}
				return p.PrintSharedSecret(args[0], args[1], secret, ok)
			})
		},
	}
}

func newPoolEncryptCmd(cfg *Config) *cobra.Command {
	return newEncryptCmd(cfg, types.SchemePool)
}

// newEncryptCmd seals a message from sender to recipient and opens it again
// from the recipient's side.
func newEncryptCmd(cfg *Config, scheme types.Scheme) *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "encrypt <sender> <recipient> <message>",
		Short: "Encrypt a message with the pairwise key and decrypt it as the recipient",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := parseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			return session(cfg, cmd, func(svc *keyserver.Service, p *Printer) error {
				data, err := svc.Encrypt(&keyserver.EncryptRequest{
					Scheme:    scheme,
					Sender:    args[0],
					Recipient: args[1],
					Algorithm: alg,
					Plaintext: []byte(args[2]),
				})
				if err != nil {
					return err
				}
				plaintext, err := svc.Decrypt(&keyserver.DecryptRequest{
					Scheme:    scheme,
					Sender:    args[0],
					Recipient: args[1],
					Data:      data,
				})
				if err != nil {
					return err
				}
				return p.PrintEncryptedData(data, plaintext)
			})
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "aes-gcm or chacha20-poly1305 (default: fastest for this CPU)")
	return cmd
}

func parseAlgorithm(name string) (types.SymmetricAlgorithm, error) {
	if name == "" {
		return "", nil
	}
	return types.ParseSymmetricAlgorithm(name)
}

// keyRings returns the rings of the named users, or of every user.
func keyRings(svc *keyserver.Service, userIDs ...string) ([]KeyRing, error) {
	var users []pool.User
	if len(userIDs) == 0 {
		all, err := svc.PoolUsers()
		if err != nil {
			return nil, err
		}
		users = all
	} else {
		for _, id := range userIDs {
			u, err := svc.PoolUser(id)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
	}

	rings := make([]KeyRing, len(users))
	for i, u := range users {
		ring := KeyRing{UserID: u.ID, Keys: []KeyRingID{}}
		if len(u.KeyIDs) > 0 {
			// PoolKeys with no ids lists the whole pool.
			keys, err := svc.PoolKeys(u.KeyIDs...)
			if err != nil {
				return nil, err
			}
			for _, k := range keys {
				ring.Keys = append(ring.Keys, KeyRingID{KeyID: k.ID, Value: k.Hex()})
			}
		}
		rings[i] = ring
	}
	return rings, nil
}
