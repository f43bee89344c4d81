package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv makes both binaries return before opening any connection.
const TestModeEnv = "COSTENGINE_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether runtime side effects should be skipped.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads TestModeEnv. Any value strconv.ParseBool treats as
// true turns test mode on.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.on.Store(on)
}
