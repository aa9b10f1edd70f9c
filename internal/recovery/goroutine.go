package recovery

import (
	"runtime/debug"

	"github.com/vanpelt/scrollguard/internal/logger"
)

// SafeGo runs a function in a goroutine with automatic panic recovery.
// A panic in a background loop (periodic maintenance, glitch checks) must
// never take down the relay while the child process is still attached.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup runs a function in a goroutine with panic recovery and
// a cleanup that runs regardless of outcome. The async glitch-recovery
// dispatch relies on the cleanup to release its in-flight guard.
func SafeGoWithCleanup(name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("🚨 PANIC recovered in goroutine '%s': %v", name, r)
				logger.Errorf("Stack trace:\n%s", debug.Stack())
			}
			if cleanup != nil {
				cleanup()
			}
		}()
		fn()
	}()
}
