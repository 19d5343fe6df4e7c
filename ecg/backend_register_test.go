// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package ecg

// Registers the pure-Go backend so tests can run with GOMLX_BACKEND=go
// when no XLA PJRT plugin is available.
import _ "github.com/gomlx/gomlx/backends/simplego"
