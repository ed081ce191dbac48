//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/pcxd/api"
)

func setAffinityPlatform(int) error {
	return fmt.Errorf("affinity on %s: %w", runtime.GOOS, api.ErrNotSupported)
}
