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

// Package rand provides the random number sources used to generate key pool
// material, symmetric matrices and secret vectors.
//
// # Overview
//
// Every secret produced by the key predistribution authorities is drawn from
// a Resolver. Predictable output here breaks every downstream shared secret,
// so the only shipped source is crypto/rand.
//
//	rng, _ := rand.NewResolver(rand.ModeAuto)
//	defer rng.Close()
//	value, _ := rand.Int(rng, prime)
//
// A Resolver is an io.Reader, so it can be passed anywhere the standard
// library expects crypto/rand.Reader, including the Int and Sample helpers
// in this package.
//
// # Thread Safety
//
// All Resolver implementations are safe for concurrent use.
package rand

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode specifies which RNG source to use.
type Mode string

const (
	// ModeAuto selects the best available RNG. Only the software source is
	// compiled in, so auto resolves to ModeSoftware.
	ModeAuto Mode = "auto"

	// ModeSoftware uses crypto/rand (stdlib secure random)
	ModeSoftware Mode = "software"
)

// ParseMode converts a configured mode name. An empty name is ModeAuto.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(name)) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeSoftware:
		return ModeSoftware, nil
	default:
		return "", fmt.Errorf("unknown RNG mode: %s", name)
	}
}

// Config contains RNG configuration.
type Config struct {
	// Mode specifies the RNG source to use.
	// Defaults to ModeAuto if not specified.
	Mode Mode
}

// Resolver provides the main interface for generating random numbers.
// Applications should create a Resolver at startup and reuse it.
type Resolver interface {
	// Read implements io.Reader, making this Resolver usable as a drop-in
	// replacement for crypto/rand.Reader.
	Read(p []byte) (n int, err error)

	// Mode returns the source the resolver settled on.
	Mode() Mode

	// Available returns true if the RNG source is available.
	Available() bool

	// Close closes the resolver and releases any resources.
	Close() error
}

// NewResolver creates a new RNG resolver with the given configuration.
// The configuration may be nil, a Mode, or a *Config. A nil or empty
// configuration selects auto mode.
func NewResolver(config interface{}) (Resolver, error) {
	cfg := normalizeConfig(config)
	return newResolver(cfg)
}

// Default returns the software resolver. It never fails.
func Default() Resolver {
	return &SoftwareResolver{}
}

// normalizeConfig converts various config types to *Config.
func normalizeConfig(config interface{}) *Config {
	if config == nil {
		return &Config{Mode: ModeAuto}
	}

	switch v := config.(type) {
	case Mode:
		if v == "" {
			return &Config{Mode: ModeAuto}
		}
		return &Config{Mode: v}
	case *Config:
		if v == nil || v.Mode == "" {
			return &Config{Mode: ModeAuto}
		}
		return v
	default:
		return &Config{Mode: ModeAuto}
	}
}

func newResolver(cfg *Config) (Resolver, error) {
	switch cfg.Mode {
	case ModeAuto, ModeSoftware:
		return &SoftwareResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown RNG mode: %s", cfg.Mode)
	}
}

// SoftwareResolver uses crypto/rand from the Go standard library.
type SoftwareResolver struct {
	closed atomic.Bool
}

var _ Resolver = (*SoftwareResolver)(nil)

// Read implements io.Reader for compatibility with crypto/rand.Reader.
// It fails once the resolver is closed.
func (s *SoftwareResolver) Read(p []byte) (n int, err error) {
	if s.closed.Load() {
		return 0, ErrResolverClosed
	}
	return rand.Read(p)
}

func (s *SoftwareResolver) Mode() Mode {
	return ModeSoftware
}

func (s *SoftwareResolver) Available() bool {
	return !s.closed.Load()
}

func (s *SoftwareResolver) Close() error {
	s.closed.Store(true)
	return nil
}
