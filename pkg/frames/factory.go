// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"fmt"

	"github.com/praxislang/praxis/pkg/config"
)

// OpenStore builds the snapshot store named by the configuration.
func OpenStore(cfg config.FramesConfig) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		return NewFilesystemStore(cfg.Directory)
	case "sqlite":
		return NewSQLiteStore(cfg.Directory)
	default:
		return nil, fmt.Errorf("unknown frame store %q", cfg.Store)
	}
}
