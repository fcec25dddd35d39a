package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "SMALLBILL_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether the process runs under `go test`, in which
// case the binaries skip their runtime side effects.
func InTestMode() bool {
	testModeOnce.Do(refresh)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment after a test harness changes it.
func RefreshTestMode() {
	refresh()
}

func refresh() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}
