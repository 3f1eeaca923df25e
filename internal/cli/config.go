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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keypredist/pkg/keyserver"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
	"github.com/jeremyhahn/go-keypredist/pkg/storage"
	"github.com/jeremyhahn/go-keypredist/pkg/storage/file"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is an optional YAML file with the same keys as the flags.
	ConfigFile string

	// DataDir is the directory holding the state documents.
	DataDir string

	// Storage is file or memory. Memory state is lost when the command exits.
	Storage string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables debug logging on stderr.
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DataDir:      "data",
		Storage:      "file",
		OutputFormat: string(OutputFormatText),
	}
}

// load resolves the configuration from flags, KPS_ environment variables
// and the optional config file, in that order of precedence.
func (c *Config) load(v *viper.Viper) error {
	if c.ConfigFile != "" {
		v.SetConfigFile(c.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	c.DataDir = v.GetString("data-dir")
	c.Storage = v.GetString("storage")
	c.OutputFormat = v.GetString("output")
	c.Verbose = v.GetBool("verbose")
	return c.Validate()
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	switch OutputFormat(c.OutputFormat) {
	case OutputFormatText, OutputFormatJSON, OutputFormatTable:
	default:
		return fmt.Errorf("unknown output format: %s", c.OutputFormat)
	}
	switch c.Storage {
	case "memory":
	case "file":
		if c.DataDir == "" {
			return fmt.Errorf("data directory must be specified for file storage")
		}
	default:
		return fmt.Errorf("unknown storage: %s (must be file or memory)", c.Storage)
	}
	return nil
}

// CreateBackend creates the storage backend for state documents.
func (c *Config) CreateBackend() (storage.Backend, error) {
	switch c.Storage {
	case "memory":
		return storage.NewMemory(), nil
	case "file":
		backend, err := file.New(c.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown storage: %s", c.Storage)
	}
}

// OpenService creates a key server over the configured storage and loads
// any stored state. Log output goes to stderr.
func (c *Config) OpenService(stderr io.Writer, opts ...func(*keyserver.Config)) (*keyserver.Service, error) {
	backend, err := c.CreateBackend()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if c.Verbose {
		level = "debug"
	}
	logger, err := logging.New(&logging.Config{Level: level, Output: stderr})
	if err != nil {
		return nil, err
	}

	svcConfig := &keyserver.Config{Backend: backend, Logger: logger}
	for _, opt := range opts {
		opt(svcConfig)
	}
	svc, err := keyserver.New(svcConfig)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	if _, err := svc.LoadState(); err != nil && !errors.Is(err, storage.ErrNotFound) {
		_ = svc.Close()
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return svc, nil
}
