// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Pinning of the main loop goroutine to one logical CPU. Platform-specific
// implementations are guarded by build tags.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The returned function undoes the thread lock; the CPU mask stays
// with the thread.
func Pin(cpuID int) (unpin func(), err error) {
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpuID); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}
