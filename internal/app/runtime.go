package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// testModeEnv, when true, makes cmd/crmbridge and cmd/worker return before
// they dial any backing service.
const testModeEnv = "CRMBRIDGE_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeRead sync.Once
)

func loadTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && on)
}

// InTestMode reports whether the binaries should exit instead of starting.
// The environment is read on first use.
func InTestMode() bool {
	testModeRead.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode rereads CRMBRIDGE_TEST_MODE, for tests that set it late.
func RefreshTestMode() {
	testModeRead.Do(func() {})
	loadTestMode()
}
