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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

const (
	demoPoolStateKey   = "demo/kps_state.json"
	demoMatrixStateKey = "demo/kps_matrix_state.json"
)

// DemoOptions parameterizes the end-to-end demo.
type DemoOptions struct {
	PoolSize    int
	KeysPerUser int
	Dimension   int
	Users       []string
	Algorithm   types.SymmetricAlgorithm
}

// DemoUser is a user's sorted key ids.
type DemoUser struct {
	UserID string `json:"user_id"`
	KeyIDs []int  `json:"key_ids"`
}

// DemoSecret is the pool secret of one pair.
type DemoSecret struct {
	A      string `json:"a"`
	B      string `json:"b"`
	Shared bool   `json:"shared"`
	Secret string `json:"secret,omitempty"`
}

// DemoCipher is the AEAD round trip over the first pair that shares keys.
type DemoCipher struct {
	A          string `json:"a"`
	B          string `json:"b"`
	Algorithm  string `json:"algorithm"`
	Key        string `json:"key"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
	Plaintext  string `json:"plaintext"`
}

// DemoSharedValue is the matrix shared value of one pair.
type DemoSharedValue struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Value string `json:"value"`
	Key   string `json:"key"`
}

// DemoReport collects everything the demo computed.
type DemoReport struct {
	PoolSize    int                         `json:"pool_size"`
	KeysPerUser int                         `json:"keys_per_user"`
	Users       []DemoUser                  `json:"users"`
	Rings       []KeyRing                   `json:"rings"`
	Assignment  *keyserver.AssignmentMatrix `json:"assignment"`
	Overlap     *keyserver.OverlapMatrix    `json:"overlap"`
	Secrets     []DemoSecret                `json:"secrets"`
	Cipher      *DemoCipher                 `json:"cipher,omitempty"`
	Matrix      []DemoSharedValue           `json:"matrix"`
	Saved       keyserver.StateResult       `json:"saved"`
	Reloaded    DemoUser                    `json:"reloaded"`
}

func newDemoCmd(cfg *Config) *cobra.Command {
	opts := DemoOptions{}
	var algorithm string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run both schemes end to end for a few users",
		Long: `demo generates a key pool, registers the users, prints their key rings,
the assignment and overlap matrices and the pairwise shared keys, encrypts a
message with the first shared key, runs the matrix scheme for the same users,
then saves and reloads the state.

Demo state is kept under demo/ in the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := parseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			opts.Algorithm = alg

			svc, err := cfg.OpenService(cmd.ErrOrStderr(), func(c *keyserver.Config) {
				c.PoolStateKey = demoPoolStateKey
				c.MatrixStateKey = demoMatrixStateKey
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := RunDemo(svc, opts)
			if err != nil {
				return err
			}
			return NewPrinter(cfg.OutputFormat, cmd.OutOrStdout()).PrintDemo(report)
		},
	}
	cmd.Flags().IntVar(&opts.PoolSize, "pool-size", 50, "number of keys in the pool")
	cmd.Flags().IntVar(&opts.KeysPerUser, "keys-per-user", 8, "keys assigned to each user")
	cmd.Flags().IntVar(&opts.Dimension, "dimension", 4, "matrix dimension")
	cmd.Flags().StringSliceVar(&opts.Users, "users", []string{"alice", "bob", "carol"}, "users to register")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(types.SymmetricAESGCM), "aes-gcm or chacha20-poly1305")
	return cmd
}

// RunDemo drives svc through the full workflow of both schemes. Any state
// svc already holds is replaced.
func RunDemo(svc *keyserver.Service, opts DemoOptions) (*DemoReport, error) {
	if len(opts.Users) < 2 {
		return nil, fmt.Errorf("%w: the demo needs at least two users", types.ErrInvalidParameters)
	}
	if err := svc.InitPool(opts.PoolSize, opts.KeysPerUser); err != nil {
		return nil, err
	}

	report := &DemoReport{PoolSize: opts.PoolSize, KeysPerUser: opts.KeysPerUser}
	for _, id := range opts.Users {
		u, err := svc.RegisterPoolUser(id)
		if err != nil {
			return nil, err
		}
		report.Users = append(report.Users, DemoUser{UserID: u.ID, KeyIDs: u.KeyIDs})
	}

	var err error
	if report.Rings, err = keyRings(svc, opts.Users...); err != nil {
		return nil, err
	}
	if report.Assignment, err = svc.AssignmentMatrix(); err != nil {
		return nil, err
	}
	if report.Overlap, err = svc.OverlapMatrix(); err != nil {
		return nil, err
	}

	pairs := userPairs(opts.Users)
	for _, pair := range pairs {
		secret, ok, err := svc.DeriveSecret(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		entry := DemoSecret{A: pair[0], B: pair[1], Shared: ok}
		if ok {
			entry.Secret = secret.Hex()
			if report.Cipher == nil {
				if report.Cipher, err = demoCipher(svc, pair[0], pair[1], entry.Secret, opts.Algorithm); err != nil {
					return nil, err
				}
			}
		}
		report.Secrets = append(report.Secrets, entry)
	}

	if report.Matrix, err = demoMatrix(svc, opts, pairs); err != nil {
		return nil, err
	}

	if report.Saved, err = svc.SaveState(); err != nil {
		return nil, err
	}
	if _, err = svc.LoadState(); err != nil {
		return nil, err
	}
	first, err := svc.PoolUser(opts.Users[0])
	if err != nil {
		return nil, err
	}
	report.Reloaded = DemoUser{UserID: first.ID, KeyIDs: first.KeyIDs}
	return report, nil
}

func demoCipher(svc *keyserver.Service, a, b, key string, alg types.SymmetricAlgorithm) (*DemoCipher, error) {
	message := fmt.Sprintf("Hello from %s to %s via %s!", a, b, displayAlgorithm(alg))
	data, err := svc.Encrypt(&keyserver.EncryptRequest{
		Scheme:    types.SchemePool,
		Sender:    a,
		Recipient: b,
		Algorithm: alg,
		Plaintext: []byte(message),
	})
	if err != nil {
		return nil, err
	}
	plaintext, err := svc.Decrypt(&keyserver.DecryptRequest{
		Scheme:    types.SchemePool,
		Sender:    a,
		Recipient: b,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}
	return &DemoCipher{
		A:          a,
		B:          b,
		Algorithm:  data.Algorithm,
		Key:        key,
		Nonce:      hex.EncodeToString(data.Nonce),
		Ciphertext: hex.EncodeToString(data.Ciphertext),
		Tag:        hex.EncodeToString(data.Tag),
		Plaintext:  string(plaintext),
	}, nil
}

func demoMatrix(svc *keyserver.Service, opts DemoOptions, pairs [][2]string) ([]DemoSharedValue, error) {
	if err := svc.InitMatrix(nil, opts.Dimension); err != nil {
		return nil, err
	}
	for _, id := range opts.Users {
		if _, err := svc.RegisterMatrixUser(id); err != nil {
			return nil, err
		}
	}

	values := make([]DemoSharedValue, 0, len(pairs))
	for _, pair := range pairs {
		ab, err := svc.SharedValue(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		ba, err := svc.SharedValue(pair[1], pair[0])
		if err != nil {
			return nil, err
		}
		if ab.Cmp(ba) != 0 {
			return nil, fmt.Errorf("%w: shared values of %s and %s differ", types.ErrInvalidState, pair[0], pair[1])
		}
		key, err := svc.MatrixKey(pair[0], pair[1], 0)
		if err != nil {
			return nil, err
		}
		values = append(values, DemoSharedValue{A: pair[0], B: pair[1], Value: ab.String(), Key: hex.EncodeToString(key)})
	}
	return values, nil
}

func userPairs(users []string) [][2]string {
	var pairs [][2]string
	for i := range users {
		for j := i + 1; j < len(users); j++ {
			pairs = append(pairs, [2]string{users[i], users[j]})
		}
	}
	return pairs
}

func displayAlgorithm(alg types.SymmetricAlgorithm) string {
	switch alg {
	case types.SymmetricChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case types.SymmetricAESGCM:
		return "AES-GCM"
	default:
		return "AEAD"
	}
}

// PrintDemo prints a demo report section by section.
func (p *Printer) PrintDemo(r *DemoReport) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(r)
	case OutputFormatTable, OutputFormatText:
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}

	w := p.writer
	fmt.Fprintf(w, "Key pool: %d keys, %d keys per user\n\n", r.PoolSize, r.KeysPerUser)

	fmt.Fprintln(w, "=== Users and their assigned key IDs ===")
	for _, u := range r.Users {
		fmt.Fprintf(w, "%s: %v\n", u.UserID, u.KeyIDs)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== User key rings (key_id -> key_value_hex) ===")
	if err := p.PrintKeyRings(r.Rings); err != nil {
		return err
	}

	fmt.Fprintln(w, "=== User-key assignment matrix ===")
	if err := p.PrintAssignment(r.Assignment); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Pairwise common-keys matrix (entries = number of shared keys) ===")
	if err := p.PrintOverlap(r.Overlap); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Shared keys between users (derived via SHA-256) ===")
	for _, s := range r.Secrets {
		if s.Shared {
			fmt.Fprintf(w, "%s <-> %s: shared key (hex) = %s\n", s.A, s.B, s.Secret)
		} else {
			fmt.Fprintf(w, "%s <-> %s: NO common predistributed keys, no shared key\n", s.A, s.B)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== AEAD demo using derived shared key ===")
	if c := r.Cipher; c == nil {
		fmt.Fprintln(w, "No user pair shares any keys, cannot run the AEAD demo.")
	} else {
		fmt.Fprintf(w, "Using pair: %s & %s (%s)\n", c.A, c.B, c.Algorithm)
		fmt.Fprintf(w, "Derived key (hex): %s\n", c.Key)
		fmt.Fprintf(w, "Nonce       (hex): %s\n", c.Nonce)
		fmt.Fprintf(w, "Ciphertext  (hex): %s\n", c.Ciphertext)
		fmt.Fprintf(w, "Tag         (hex): %s\n", c.Tag)
		fmt.Fprintf(w, "Decrypted plaintext: %s\n", c.Plaintext)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Matrix scheme shared values ===")
	for _, v := range r.Matrix {
		fmt.Fprintf(w, "%s <-> %s: value = %s   key (hex) = %s\n", v.A, v.B, v.Value, v.Key)
	}
	fmt.Fprintln(w)

	saved := []string{}
	for _, key := range []string{r.Saved.Pool, r.Saved.Matrix} {
		if key != "" {
			saved = append(saved, key)
		}
	}
	fmt.Fprintf(w, "State saved to: %s\n", strings.Join(saved, ", "))
	fmt.Fprintln(w, "\nReloading state to verify...")
	fmt.Fprintf(w, "Reloaded %s has keys: %v\n", r.Reloaded.UserID, r.Reloaded.KeyIDs)
	return nil
}
