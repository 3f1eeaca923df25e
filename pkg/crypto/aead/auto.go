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

package aead

import (
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/jeremyhahn/go-keypredist/pkg/types"
)

// HasAESNI reports whether the CPU accelerates AES.
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES && cpu.X86.HasPCLMULQDQ
	case "arm64":
		return cpu.ARM64.HasAES && cpu.ARM64.HasPMULL
	case "s390x":
		return cpu.S390X.HasAES && cpu.S390X.HasAESGCM
	default:
		return false
	}
}

// Recommend returns AES-GCM on CPUs with AES acceleration and
// ChaCha20-Poly1305 elsewhere.
func Recommend() types.SymmetricAlgorithm {
	if HasAESNI() {
		return types.SymmetricAESGCM
	}
	return types.SymmetricChaCha20Poly1305
}
