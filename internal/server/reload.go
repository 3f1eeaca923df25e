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

package server

import (
	"fmt"

	"github.com/jeremyhahn/go-keypredist/internal/config"
	"github.com/jeremyhahn/go-keypredist/pkg/logging"
)

// Reload applies the parts of cfg that can change without a restart.
// Currently only logging is reloaded; listener, storage and scheme
// parameters require a restart.
func (s *Server) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLogging(cfg); err != nil {
		return fmt.Errorf("failed to reload logging configuration: %w", err)
	}
	s.config.Logging = cfg.Logging
	return nil
}

func (s *Server) reloadLogging(cfg *config.Config) error {
	if cfg.Logging.Level == s.config.Logging.Level &&
		cfg.Logging.Format == s.config.Logging.Format {
		return nil
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return err
	}
	s.logger.Info("updating logging configuration",
		"old_level", s.config.Logging.Level,
		"new_level", cfg.Logging.Level,
		"old_format", s.config.Logging.Format,
		"new_format", cfg.Logging.Format)
	s.logger = logger
	return nil
}
