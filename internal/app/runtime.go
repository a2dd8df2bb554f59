package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

// testMode caches ODYSSEY_TEST_MODE. Both binaries check it before dialing
// Postgres, Redis or the job queue.
var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the environment after it changed.
func RefreshTestMode() {
	v := strings.TrimSpace(os.Getenv(testModeEnv))
	testMode.on.Store(v == "1" || strings.EqualFold(v, "true"))
}
