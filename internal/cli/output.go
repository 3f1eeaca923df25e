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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/matrix"
	"github.com/jeremyhahn/go-keypredist/pkg/pool"
	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// KeyRing is a user's key ids with their values in hex.
type KeyRing struct {
	UserID string      `json:"user_id"`
	Keys   []KeyRingID `json:"keys"`
}

// KeyRingID is one entry of a KeyRing.
type KeyRingID struct {
	KeyID int    `json:"key_id"`
	Value string `json:"value"`
}

// PrintPoolSummary prints the pool parameters and each user's key ids.
func (p *Printer) PrintPoolSummary(cfg pool.Config, users []pool.User) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(users))
		for i, u := range users {
			list[i] = map[string]any{"user_id": u.ID, "key_ids": u.KeyIDs}
		}
		return p.printJSON(map[string]any{
			"pool_size":     cfg.PoolSize,
			"keys_per_user": cfg.KeysPerUser,
			"users":         list,
		})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "Pool size: %d   Keys per user: %d\n\n", cfg.PoolSize, cfg.KeysPerUser)
		if len(users) == 0 {
			fmt.Fprintln(p.writer, "No users registered")
			return nil
		}
		fmt.Fprintf(p.writer, "%-20s %s\n", "USER", "KEY IDS")
		fmt.Fprintln(p.writer, strings.Repeat("-", 60))
		for _, u := range users {
			fmt.Fprintf(p.writer, "%-20s %v\n", u.ID, u.KeyIDs)
		}
		return nil
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Key pool: %d keys, %d keys per user\n", cfg.PoolSize, cfg.KeysPerUser)
		if len(users) == 0 {
			fmt.Fprintln(p.writer, "No users registered")
			return nil
		}
		fmt.Fprintln(p.writer, "Users:")
		for _, u := range users {
			fmt.Fprintf(p.writer, "  %s: %v\n", u.ID, u.KeyIDs)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPoolUsers prints newly registered key rings.
func (p *Printer) PrintPoolUsers(users []pool.User) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(users))
		for i, u := range users {
			list[i] = map[string]any{"user_id": u.ID, "key_ids": u.KeyIDs}
		}
		return p.printJSON(map[string]any{"users": list})
	case OutputFormatTable, OutputFormatText:
		for _, u := range users {
			fmt.Fprintf(p.writer, "%s: %v\n", u.ID, u.KeyIDs)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintKeyRings prints every ring with its key values.
func (p *Printer) PrintKeyRings(rings []KeyRing) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]any{"rings": rings})
	case OutputFormatTable:
		fmt.Fprintf(p.writer, "%-20s %-8s %s\n", "USER", "KEY ID", "VALUE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 62))
		for _, ring := range rings {
			for _, k := range ring.Keys {
				fmt.Fprintf(p.writer, "%-20s %-8d %s\n", ring.UserID, k.KeyID, k.Value)
			}
		}
		return nil
	case OutputFormatText:
		for _, ring := range rings {
			fmt.Fprintf(p.writer, "User %s:\n", ring.UserID)
			for _, k := range ring.Keys {
				fmt.Fprintf(p.writer, "  key_id = %2d   value = %s\n", k.KeyID, k.Value)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAssignment prints the user by key membership matrix.
func (p *Printer) PrintAssignment(m *keyserver.AssignmentMatrix) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(m)
	case OutputFormatTable, OutputFormatText:
		width := columnWidth(m.Users, 5)
		fmt.Fprint(p.writer, strings.Repeat(" ", width+1))
		for _, id := range m.KeyIDs {
			fmt.Fprintf(p.writer, " %2d", id)
		}
		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, strings.Repeat(" ", width+1)+strings.Repeat("---", len(m.KeyIDs)))
		for i, user := range m.Users {
			fmt.Fprintf(p.writer, "%-*s ", width, user)
			for _, assigned := range m.Assigned[i] {
				cell := "0"
				if assigned {
					cell = "1"
				}
				fmt.Fprintf(p.writer, " %2s", cell)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintOverlap prints the pairwise common-key counts.
func (p *Printer) PrintOverlap(m *keyserver.OverlapMatrix) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(m)
	case OutputFormatTable, OutputFormatText:
		width := columnWidth(m.Users, 5)
		fmt.Fprint(p.writer, strings.Repeat(" ", width+1))
		for _, user := range m.Users {
			fmt.Fprintf(p.writer, " %*s", width, user)
		}
		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, strings.Repeat(" ", width+1)+strings.Repeat("-", (width+1)*len(m.Users)))
		for i, user := range m.Users {
			fmt.Fprintf(p.writer, "%-*s ", width, user)
			for _, count := range m.Counts[i] {
				fmt.Fprintf(p.writer, " %*d", width, count)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSharedSecret prints the pool secret of a pair, or that the pair
// shares no keys.
func (p *Printer) PrintSharedSecret(a, b string, secret pool.SharedSecret, ok bool) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{"a": a, "b": b, "shared": ok}
		if ok {
			out["secret"] = secret.Hex()
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		if !ok {
			fmt.Fprintf(p.writer, "%s <-> %s: NO common predistributed keys, no shared key\n", a, b)
			return nil
		}
		fmt.Fprintf(p.writer, "%s <-> %s: shared key (hex) = %s\n", a, b, secret.Hex())
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintMatrixSummary prints the matrix parameters and registered users.
func (p *Printer) PrintMatrixSummary(prime *big.Int, dimension int, users []matrix.User) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(users))
		for i, u := range users {
			list[i] = map[string]any{"user_id": u.ID, "public_vector": decimals(u.Public)}
		}
		return p.printJSON(map[string]any{
			"prime":     prime.String(),
			"dimension": dimension,
			"users":     list,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Matrix: dimension %d over prime %s\n", dimension, prime)
		if len(users) == 0 {
			fmt.Fprintln(p.writer, "No users registered")
			return nil
		}
		fmt.Fprintln(p.writer, "Public vectors:")
		for _, u := range users {
			fmt.Fprintf(p.writer, "  %s: [%s]\n", u.ID, strings.Join(decimals(u.Public), " "))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintMatrixUsers prints newly registered users including their secret
// vectors, which are not shown anywhere else.
func (p *Printer) PrintMatrixUsers(users []matrix.User) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]any, len(users))
		for i, u := range users {
			list[i] = map[string]any{
				"user_id":       u.ID,
				"secret_vector": decimals(u.Secret),
				"public_vector": decimals(u.Public),
			}
		}
		return p.printJSON(map[string]any{"users": list})
	case OutputFormatTable, OutputFormatText:
		for _, u := range users {
			fmt.Fprintf(p.writer, "%s:\n", u.ID)
			fmt.Fprintf(p.writer, "  secret: [%s]\n", strings.Join(decimals(u.Secret), " "))
			fmt.Fprintf(p.writer, "  public: [%s]\n", strings.Join(decimals(u.Public), " "))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSharedValue prints a matrix shared value and, when key is set, the
// symmetric key derived from it.
func (p *Printer) PrintSharedValue(requester, other string, value *big.Int, key []byte) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]any{"requester": requester, "other": other, "value": value.String()}
		if key != nil {
			out["key"] = fmt.Sprintf("%x", key)
		}
		return p.printJSON(out)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "%s <-> %s: shared value = %s\n", requester, other, value)
		if key != nil {
			fmt.Fprintf(p.writer, "derived key (hex) = %x\n", key)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// PrintEncryptedData prints encrypted data (ciphertext, nonce, tag all base64 encoded)
// followed by the plaintext recovered from the recipient's side.
func (p *Printer) PrintEncryptedData(data *types.EncryptedData, decrypted []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"ciphertext": base64.StdEncoding.EncodeToString(data.Ciphertext),
			"nonce":      base64.StdEncoding.EncodeToString(data.Nonce),
			"tag":        base64.StdEncoding.EncodeToString(data.Tag),
			"algorithm":  data.Algorithm,
			"decrypted":  string(decrypted),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Algorithm:  %s\n", data.Algorithm)
		fmt.Fprintf(p.writer, "Nonce:      %s\n", base64.StdEncoding.EncodeToString(data.Nonce))
		fmt.Fprintf(p.writer, "Ciphertext: %s\n", base64.StdEncoding.EncodeToString(data.Ciphertext))
		fmt.Fprintf(p.writer, "Tag:        %s\n", base64.StdEncoding.EncodeToString(data.Tag))
		fmt.Fprintf(p.writer, "Decrypted:  %s\n", decrypted)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func decimals(v []*big.Int) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = x.String()
	}
	return out
}

func columnWidth(names []string, minimum int) int {
	width := minimum
	for _, n := range names {
		if len(n) > width {
			width = len(n)
		}
	}
	return width
}
